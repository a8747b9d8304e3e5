// Package sampler reads the current process's resource counters: accumulated
// CPU time and the peak resident set size.
//
// The native accounting API differs per platform. getrusage(2) reports
// ru_maxrss in kilobytes on Linux and the BSDs but in bytes on Darwin, and
// platforms without getrusage are read through gopsutil instead. The source
// is selected once per process; all readings are normalized so callers
// always see seconds and megabytes.
package sampler

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Source identifies where resource counters are read from and in which
// unit the raw peak RSS value is reported.
type Source int

const (
	// SourceRusageKilobytes is getrusage(2) with ru_maxrss in kilobytes.
	SourceRusageKilobytes Source = iota
	// SourceRusageBytes is getrusage(2) with ru_maxrss in bytes.
	SourceRusageBytes
	// SourceProcess is gopsutil's process accounting, memory in bytes.
	SourceProcess
)

func (s Source) String() string {
	switch s {
	case SourceRusageKilobytes:
		return "rusage-kb"
	case SourceRusageBytes:
		return "rusage-bytes"
	case SourceProcess:
		return "process"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// Usage is a raw reading. MaxRSS is in the unit implied by the Source.
type Usage struct {
	User   time.Duration
	System time.Duration
	MaxRSS int64
}

// CPU returns user plus system time.
func (u Usage) CPU() time.Duration {
	return u.User + u.System
}

type readFunc func(ctx context.Context) (Usage, error)

// Sampler reads process resource counters from a fixed Source.
type Sampler struct {
	source Source
	read   readFunc
}

var (
	defaultOnce    sync.Once
	defaultSampler *Sampler
	defaultErr     error
)

// Default returns the process-wide sampler, probing the platform on first use.
func Default() (*Sampler, error) {
	defaultOnce.Do(func() {
		defaultSampler, defaultErr = New()
	})
	return defaultSampler, defaultErr
}

// New inspects the platform and returns a Sampler bound to the matching source.
func New() (*Sampler, error) {
	src := detectSource(runtime.GOOS)
	if src == SourceProcess {
		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return nil, fmt.Errorf("could not find this process: %w", err)
		}
		return &Sampler{source: src, read: processReader(proc)}, nil
	}

	// a trial, so an unusable getrusage fails here rather than mid-window
	if _, err := readRusage(context.Background()); err != nil {
		return nil, fmt.Errorf("cannot getrusage: %w", err)
	}
	return &Sampler{source: src, read: readRusage}, nil
}

// detectSource maps an operating system to its accounting source.
func detectSource(goos string) Source {
	switch goos {
	case "darwin", "ios":
		return SourceRusageBytes
	case "linux", "android", "freebsd", "netbsd", "openbsd", "dragonfly", "aix":
		return SourceRusageKilobytes
	default:
		// windows, plan9 and solaris (which reports pages) go through gopsutil.
		return SourceProcess
	}
}

// Source reports which accounting source the sampler reads.
func (s *Sampler) Source() Source {
	return s.source
}

// CPUTime returns the user+system CPU time consumed by this process since it started.
func (s *Sampler) CPUTime(ctx context.Context) (time.Duration, error) {
	u, err := s.read(ctx)
	if err != nil {
		return 0, err
	}
	return u.CPU(), nil
}

// PeakResidentMemoryMB returns the process's resident-memory high-water mark
// in megabytes. The value is a lifetime peak and is never reset.
func (s *Sampler) PeakResidentMemoryMB(ctx context.Context) (float64, error) {
	u, err := s.read(ctx)
	if err != nil {
		return 0, err
	}
	return ToMegabytes(u.MaxRSS, s.source), nil
}

// ToMegabytes normalizes a raw peak RSS reading from src to megabytes.
func ToMegabytes(raw int64, src Source) float64 {
	switch src {
	case SourceRusageKilobytes:
		return float64(raw) / 1024
	default:
		return float64(raw) / (1024 * 1024)
	}
}

func processReader(proc *process.Process) readFunc {
	return func(ctx context.Context) (Usage, error) {
		times, err := proc.TimesWithContext(ctx)
		if err != nil {
			return Usage{}, fmt.Errorf("process cpu times: %w", err)
		}
		mem, err := proc.MemoryInfoWithContext(ctx)
		if err != nil {
			return Usage{}, fmt.Errorf("process memory info: %w", err)
		}

		// HWM is only populated on linux; elsewhere the current RSS is the best available figure.
		rss := mem.RSS
		if mem.HWM > rss {
			rss = mem.HWM
		}

		return Usage{
			User:   secondsToDuration(times.User),
			System: secondsToDuration(times.System),
			MaxRSS: int64(rss),
		}, nil
	}
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
