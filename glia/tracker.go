package glia

import (
	"context"
	"fmt"
	"maps"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/glia-dev/glia/internal/hasher"
	"github.com/glia-dev/glia/internal/platform"
	"github.com/glia-dev/glia/internal/sampler"
)

// InteractiveName is the program name used when there is no script path.
const InteractiveName = "interactive"

// cpuPercentEpsilon is the shortest wall time, in seconds, for which a CPU
// percentage is computed. Shorter windows report 0.
const cpuPercentEpsilon = 0.0001

type resourceSampler interface {
	CPUTime(ctx context.Context) (time.Duration, error)
	PeakResidentMemoryMB(ctx context.Context) (float64, error)
}

// JobTracker owns a single measurement window. It moves from created to
// started to captured and is not reused. A JobTracker is not safe for
// concurrent use; nested windows each get their own tracker.
type JobTracker struct {
	opts *options

	runID        string
	userName     string
	scriptPath   string
	scriptSHA256 string
	programName  string

	meta map[string]any

	sampler    resourceSampler
	samplerErr error

	started   bool
	startedAt time.Time
	cpuStart  time.Duration

	metrics *JobMetrics
}

// NewJobTracker resolves the run's identity and returns a tracker in the
// created state. name, when non-empty, is appended to the program name as
// "base:name".
func NewJobTracker(name string, opts ...Option) *JobTracker {
	o := newOptions(opts)
	if name == "" {
		name = o.name
	}
	return newJobTracker(name, o)
}

func newJobTracker(name string, o *options) *JobTracker {
	t := &JobTracker{
		opts:     o,
		runID:    uuid.NewString(),
		userName: platform.Username(),
		meta:     make(map[string]any, len(o.meta)),
		sampler:  o.sampler,
	}
	maps.Copy(t.meta, o.meta)

	if t.sampler == nil {
		s, err := sampler.Default()
		if err != nil {
			t.samplerErr = fmt.Errorf("resource sampler: %w", err)
		} else {
			t.sampler = s
		}
	}

	program, _ := platform.Invocation(t.argv())
	base := InteractiveName
	t.scriptSHA256 = hasher.UnknownHash
	if program != "" {
		t.scriptPath = resolveScript(program)
		t.scriptSHA256 = o.digest(t.scriptPath)
		base = filepath.Base(t.scriptPath)
	}

	t.programName = base
	if name != "" {
		t.programName = base + ":" + name
	}
	return t
}

// resolveScript turns argument zero into an absolute path. Bare names that
// do not exist in the working directory are looked up on PATH.
func resolveScript(program string) string {
	if !strings.ContainsRune(program, filepath.Separator) && !strings.ContainsRune(program, '/') {
		if _, err := os.Stat(program); err != nil {
			if found, err := exec.LookPath(program); err == nil {
				program = found
			}
		}
	}
	abs, err := filepath.Abs(program)
	if err != nil {
		return program
	}
	return abs
}

func (t *JobTracker) argv() []string {
	if t.opts.argvSet {
		return t.opts.argv
	}
	return os.Args
}

// RunID returns the identifier of this window.
func (t *JobTracker) RunID() string { return t.runID }

// ProgramName returns the derived "base" or "base:label" name.
func (t *JobTracker) ProgramName() string { return t.programName }

// ScriptPath returns the absolute script path, or "" for interactive runs.
func (t *JobTracker) ScriptPath() string { return t.scriptPath }

// ScriptSHA256 returns the script digest or one of the hasher sentinels.
func (t *JobTracker) ScriptSHA256() string { return t.scriptSHA256 }

// UserName returns the user the run is attributed to.
func (t *JobTracker) UserName() string { return t.userName }

// Metrics returns the captured record, or nil before Capture succeeds.
func (t *JobTracker) Metrics() *JobMetrics { return t.metrics }

// LogMetadata merges data into the tracker's metadata; later keys win.
// Metadata logged after Capture does not reach the emitted record.
func (t *JobTracker) LogMetadata(data map[string]any) {
	maps.Copy(t.meta, data)
}

// Start opens the window by recording the wall clock and a CPU-time
// snapshot. Calling Start again before Capture restarts the window.
func (t *JobTracker) Start() error {
	if t.metrics != nil {
		return ErrAlreadyCaptured
	}
	if t.samplerErr != nil {
		return t.samplerErr
	}

	startedAt := t.opts.now().UTC().Truncate(time.Microsecond)
	cpu, err := t.sampler.CPUTime(context.Background())
	if err != nil {
		return fmt.Errorf("glia: start cpu snapshot: %w", err)
	}

	t.startedAt = startedAt
	t.cpuStart = cpu
	t.started = true
	return nil
}

// Capture closes the window and returns the finished record. exitCode is 0
// for a normal exit and 1 when an error escaped the measured work.
func (t *JobTracker) Capture(exitCode int) (*JobMetrics, error) {
	if t.metrics != nil {
		return nil, ErrAlreadyCaptured
	}
	if !t.started {
		return nil, ErrNotStarted
	}

	ctx := context.Background()

	endedAt := t.opts.now().UTC().Truncate(time.Microsecond)
	cpuEnd, err := t.sampler.CPUTime(ctx)
	if err != nil {
		return nil, fmt.Errorf("glia: end cpu snapshot: %w", err)
	}
	peakMB, err := t.sampler.PeakResidentMemoryMB(ctx)
	if err != nil {
		return nil, fmt.Errorf("glia: peak rss: %w", err)
	}

	// The wall clock may step backwards; the window never has negative length.
	if endedAt.Before(t.startedAt) {
		endedAt = t.startedAt
	}
	wall := endedAt.Sub(t.startedAt).Seconds()
	cpu := max((cpuEnd - t.cpuStart).Seconds(), 0)

	_, args := platform.Invocation(t.argv())

	t.metrics = &JobMetrics{
		RunID:        t.runID,
		ProgramName:  t.programName,
		UserName:     t.userName,
		ScriptSHA256: t.scriptSHA256,
		Hostname:     t.opts.hostname(),
		OSInfo:       t.opts.osInfo(ctx),
		ScriptPath:   t.scriptPath,
		Argv:         args,
		WallTimeSec:  wall,
		StartedAt:    t.startedAt,
		EndedAt:      endedAt,
		CPUTimeSec:   cpu,
		CPUPercent:   cpuPercent(cpu, wall),
		MaxRSSMB:     round2(peakMB),
		ExitCode:     exitCode,
		Meta:         maps.Clone(t.meta),
	}
	return t.metrics, nil
}

func cpuPercent(cpuSec, wallSec float64) float64 {
	if wallSec <= cpuPercentEpsilon {
		return 0
	}
	return round2(100 * cpuSec / wallSec)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
