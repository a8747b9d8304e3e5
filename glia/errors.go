package glia

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted is returned by Capture when Start was never called.
	ErrNotStarted = errors.New("glia: job tracker was not started; call Start or use Begin")

	// ErrAlreadyCaptured is returned when a tracker is reused after its window closed.
	ErrAlreadyCaptured = errors.New("glia: job tracker already captured its window")

	// ErrNoEndpoint is returned by Send when no collector URL is configured.
	ErrNoEndpoint = errors.New("glia: no collector endpoint configured")
)

// Delivery stages reported by DeliveryError.
const (
	StageEncode  = "encode"
	StageRequest = "request"
	StageSend    = "send"
	StageStatus  = "status"
)

// DeliveryError describes a failed push to the collector.
type DeliveryError struct {
	Stage      string
	Endpoint   string
	StatusCode int    // set for StageStatus
	Body       string // response body for StageStatus, possibly truncated
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Stage == StageStatus {
		return fmt.Sprintf("glia: collector %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("glia: %s %s: %v", e.Stage, e.Endpoint, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
