//go:build unix

package sampler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

func readRusage(_ context.Context) (Usage, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return Usage{}, fmt.Errorf("getrusage: %w", err)
	}
	return Usage{
		User:   time.Duration(ru.Utime.Nano()),
		System: time.Duration(ru.Stime.Nano()),
		MaxRSS: int64(ru.Maxrss),
	}, nil
}
