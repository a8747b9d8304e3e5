// Package glia captures resource-usage telemetry for a unit of work and
// delivers it to a remote collector without disturbing the instrumented program.
//
// A measurement window is owned by a JobTracker. It is opened with Start and
// closed with Capture, which returns a JobMetrics record holding wall time,
// CPU time, CPU utilization, peak resident memory, the invoking script's
// identity and any caller-supplied metadata.
//
// Most programs drive the tracker through one of the adapters instead:
//
//	func run() (err error) {
//		s := glia.Begin("train", glia.WithMeta(map[string]any{"dataset": "mnist"}))
//		defer s.End(&err)
//		...
//	}
//
//	train := glia.TrackFunc(trainModel) // label defaults to "trainModel"
//
// Adapters send the captured record through a Sender (by default a
// Transmitter configured from GLIA_API_URL). Delivery failures are logged and
// dropped; errors and panics raised by the instrumented work are recorded as
// exit code 1 and then propagate unchanged.
package glia
