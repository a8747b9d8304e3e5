package glia

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// Scope drives a JobTracker around a block of code. Begin opens the window
// and a deferred End closes it:
//
//	s := glia.Begin("load")
//	defer s.End(&err)
//
// Telemetry problems inside a Scope are logged and never returned.
type Scope struct {
	tracker  *JobTracker
	sender   Sender
	logger   *zap.Logger
	startErr error
}

// Begin constructs a tracker labelled name and starts it.
func Begin(name string, opts ...Option) *Scope {
	o := newOptions(opts)
	if name == "" {
		name = o.name
	}

	s := &Scope{
		tracker: newJobTracker(name, o),
		sender:  o.sender,
		logger:  o.logger,
	}
	if err := s.tracker.Start(); err != nil {
		s.startErr = err
		s.logger.Warn("Could not start job tracker", zap.String("program", s.tracker.ProgramName()), zap.Error(err))
	}
	return s
}

// Tracker exposes the underlying tracker.
func (s *Scope) Tracker() *JobTracker { return s.tracker }

// LogMetadata merges data into the window's metadata.
func (s *Scope) LogMetadata(data map[string]any) { s.tracker.LogMetadata(data) }

// Metrics returns the captured record once End has run.
func (s *Scope) Metrics() *JobMetrics { return s.tracker.Metrics() }

// End closes the window and sends the record. It must be deferred directly
// so it can observe a panic: a panicking block is captured with exit code 1
// and the panic continues with its original value. A non-nil *errp also
// yields exit code 1; the error itself is left untouched.
func (s *Scope) End(errp *error) {
	s.finish(recover(), errp, true)
}

// finish closes the window. completed is false when the wrapped function
// never returned, which without a panic means runtime.Goexit unwound it.
func (s *Scope) finish(panicked any, errp *error, completed bool) {
	if panicked != nil {
		s.close(1)
		panic(panicked)
	}

	exitCode := 0
	if !completed || (errp != nil && *errp != nil) {
		exitCode = 1
	}
	s.close(exitCode)
}

func (s *Scope) close(exitCode int) {
	if s.startErr != nil {
		return
	}

	m, err := s.tracker.Capture(exitCode)
	if err != nil {
		s.logger.Warn("Could not capture job metrics", zap.String("program", s.tracker.ProgramName()), zap.Error(err))
		return
	}

	sender := s.sender
	if sender == nil {
		sender = DefaultSender()
	}
	// The Sender already logged the failure; the instrumented program never sees it.
	if err := sender.Send(context.Background(), m); err != nil {
		s.logger.Debug("Telemetry dropped", zap.String("run_id", m.RunID), zap.Error(err))
	}
}

// Track wraps fn so every call runs in its own measurement window. The
// label defaults to fn's declared name; WithName overrides it. Results and
// errors pass through unchanged.
func Track[T any](fn func() (T, error), opts ...Option) func() (T, error) {
	opts = labelled(fn, opts)
	return func() (result T, err error) {
		s := Begin("", opts...)
		completed := false
		defer func() { s.finish(recover(), &err, completed) }()

		result, err = fn()
		completed = true
		return result, err
	}
}

// TrackFunc is Track for functions that only return an error.
func TrackFunc(fn func() error, opts ...Option) func() error {
	opts = labelled(fn, opts)
	return func() (err error) {
		s := Begin("", opts...)
		completed := false
		defer func() { s.finish(recover(), &err, completed) }()

		err = fn()
		completed = true
		return err
	}
}

// TrackContext is Track for context-aware functions.
func TrackContext(fn func(context.Context) error, opts ...Option) func(context.Context) error {
	opts = labelled(fn, opts)
	return func(ctx context.Context) (err error) {
		s := Begin("", opts...)
		completed := false
		defer func() { s.finish(recover(), &err, completed) }()

		err = fn(ctx)
		completed = true
		return err
	}
}

func labelled(fn any, opts []Option) []Option {
	out := make([]Option, 0, len(opts)+1)
	out = append(out, WithName(funcName(fn)))
	return append(out, opts...)
}

// funcName returns the declared name of fn without its package path,
// receiver or instantiation suffix: "pkg.(*T).Run-fm" becomes "Run".
func funcName(fn any) string {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Sprintf("%T", fn)
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return ""
	}

	name := f.Name()
	name = strings.TrimSuffix(name, "-fm")
	name = strings.TrimSuffix(name, "[...]")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}
