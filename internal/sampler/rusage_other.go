//go:build !unix

package sampler

import (
	"context"
	"errors"
)

var errNoRusage = errors.New("getrusage is not available on this platform")

func readRusage(_ context.Context) (Usage, error) {
	return Usage{}, errNoRusage
}
