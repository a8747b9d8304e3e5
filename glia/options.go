package glia

import (
	"context"
	"maps"
	"time"

	"go.uber.org/zap"

	"github.com/glia-dev/glia/internal/hasher"
	"github.com/glia-dev/glia/internal/platform"
)

// Option configures a JobTracker or an adapter.
type Option func(*options)

type options struct {
	name    string
	meta    map[string]any
	argv    []string
	argvSet bool
	sender  Sender
	logger  *zap.Logger

	// overridable for tests
	sampler  resourceSampler
	now      func() time.Time
	hostname func() string
	osInfo   func(context.Context) string
	digest   func(path string) string
}

func newOptions(opts []Option) *options {
	o := &options{
		now:      time.Now,
		hostname: platform.Hostname,
		osInfo:   platform.OSInfo,
		digest:   hasher.ScriptDigest,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = defaultLogger()
	}
	return o
}

// WithName sets the block or function label appended to the program name.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithMeta seeds the tracker's metadata. The map is copied; later calls merge.
func WithMeta(meta map[string]any) Option {
	return func(o *options) {
		if o.meta == nil {
			o.meta = make(map[string]any, len(meta))
		}
		maps.Copy(o.meta, meta)
	}
}

// WithArgs overrides the invocation vector (default os.Args). Element zero is
// the script path; an empty element zero marks an interactive session.
func WithArgs(argv []string) Option {
	return func(o *options) {
		o.argv = append([]string(nil), argv...)
		o.argvSet = true
	}
}

// WithSender sets where adapters deliver the captured record.
func WithSender(s Sender) Option {
	return func(o *options) {
		o.sender = s
	}
}

// WithLogger sets the logger used for non-fatal telemetry problems.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

func withSampler(s resourceSampler) Option {
	return func(o *options) {
		o.sampler = s
	}
}

func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func withHost(hostname, osInfo string) Option {
	return func(o *options) {
		o.hostname = func() string { return hostname }
		o.osInfo = func(context.Context) string { return osInfo }
	}
}
