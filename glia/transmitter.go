package glia

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// IngestPath is appended to the collector base URL.
const IngestPath = "/ingest"

// DefaultTimeout bounds a push when TransmitterConfig.Timeout is zero.
const DefaultTimeout = 2 * time.Second

// maxErrorBody caps how much of a failed response is kept for logging.
const maxErrorBody = 4096

// Sender delivers a captured record somewhere.
type Sender interface {
	Send(ctx context.Context, m *JobMetrics) error
}

// TransmitterConfig holds configuration for the transmitter.
type TransmitterConfig struct {
	// BaseURL is the collector base URL (e.g., "http://localhost:8000").
	// Empty means telemetry is dropped without a network attempt.
	BaseURL string

	// Timeout bounds the whole request (default: 2s)
	Timeout time.Duration

	// HTTPClient overrides the client used for the push (optional)
	HTTPClient *http.Client

	// Logger receives warnings about dropped telemetry (optional)
	Logger *zap.Logger
}

// Transmitter pushes records to a collector with a single bounded POST.
// It never retries.
type Transmitter struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTransmitter creates a transmitter for the collector at cfg.BaseURL.
func NewTransmitter(cfg TransmitterConfig) *Transmitter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}

	var endpoint string
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		endpoint = base + IngestPath
	}

	return &Transmitter{
		endpoint:   endpoint,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

// Endpoint returns the ingestion URL, or "" when none is configured.
func (t *Transmitter) Endpoint() string {
	return t.endpoint
}

// Send serializes m and posts it to the collector. It returns ErrNoEndpoint
// without touching the network when no endpoint is configured, and a
// *DeliveryError for every transport or HTTP failure. Only a 2xx response
// counts as delivered.
func (t *Transmitter) Send(ctx context.Context, m *JobMetrics) error {
	if t.endpoint == "" {
		t.logger.Warn("No GLIA_API_URL configured. Telemetry dropped.")
		return ErrNoEndpoint
	}

	body, err := json.Marshal(m)
	if err != nil {
		return t.fail(&DeliveryError{Stage: StageEncode, Endpoint: t.endpoint, Err: err})
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return t.fail(&DeliveryError{Stage: StageRequest, Endpoint: t.endpoint, Err: err})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "glia-go")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return t.fail(&DeliveryError{Stage: StageSend, Endpoint: t.endpoint, Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return t.fail(&DeliveryError{
			Stage:      StageStatus,
			Endpoint:   t.endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		})
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

// Push is Send for callers that only need to know whether the record was accepted.
func (t *Transmitter) Push(ctx context.Context, m *JobMetrics) bool {
	return t.Send(ctx, m) == nil
}

func (t *Transmitter) fail(err *DeliveryError) error {
	if err.Stage == StageStatus {
		t.logger.Warn("Backend returned error",
			zap.String("endpoint", err.Endpoint),
			zap.Int("status", err.StatusCode),
			zap.String("body", err.Body))
	} else {
		t.logger.Warn("Could not deliver telemetry",
			zap.String("endpoint", err.Endpoint),
			zap.String("stage", err.Stage),
			zap.Error(err.Err))
	}
	return err
}
