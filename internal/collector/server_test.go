package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/glia-dev/glia/glia"
	"github.com/glia-dev/glia/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "collector_test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func recordBody(t *testing.T, runID string) []byte {
	t.Helper()
	started := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	body, err := json.Marshal(&glia.JobMetrics{
		RunID:        runID,
		ProgramName:  "train.py",
		UserName:     "ops",
		ScriptSHA256: "a1b2c3d4",
		Hostname:     "box",
		OSInfo:       "Linux 6.1.0",
		ScriptPath:   "/srv/train.py",
		WallTimeSec:  1,
		StartedAt:    started,
		EndedAt:      started.Add(time.Second),
		CPUTimeSec:   0.5,
		CPUPercent:   50,
		MaxRSSMB:     12.5,
		Meta:         map[string]any{"k": "v"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func ingest(t *testing.T, h http.Handler, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestNewServerDefaults(t *testing.T) {
	server := NewServer(ServerConfig{}, nil)
	if server.Addr() != ":8000" {
		t.Errorf("Addr() = %q, want :8000", server.Addr())
	}

	server = NewServer(ServerConfig{Addr: "127.0.0.1:9000"}, nil)
	if server.Addr() != "127.0.0.1:9000" {
		t.Errorf("Addr() = %q", server.Addr())
	}
}

func TestIngestCreated(t *testing.T) {
	h := NewServer(ServerConfig{}, openTestStore(t)).Handler()
	runID := uuid.NewString()

	w := ingest(t, h, recordBody(t, runID))
	if w.Code != http.StatusCreated {
		t.Fatalf("StatusCode = %d, want 201: %s", w.Code, w.Body.String())
	}

	var job store.Job
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.ID == 0 {
		t.Error("response should carry the stored id")
	}
	if job.RunID != runID {
		t.Errorf("RunID = %q, want %q", job.RunID, runID)
	}
	if job.Meta["k"] != "v" {
		t.Errorf("Meta = %v", job.Meta)
	}
}

func TestIngestAssignsRunID(t *testing.T) {
	h := NewServer(ServerConfig{}, openTestStore(t)).Handler()

	w := ingest(t, h, recordBody(t, ""))
	if w.Code != http.StatusCreated {
		t.Fatalf("StatusCode = %d, want 201: %s", w.Code, w.Body.String())
	}

	var job store.Job
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, err := uuid.Parse(job.RunID); err != nil {
		t.Errorf("assigned run id %q is not a uuid: %v", job.RunID, err)
	}
}

func TestIngestRejectsInvalidRecords(t *testing.T) {
	h := NewServer(ServerConfig{}, openTestStore(t)).Handler()

	valid := string(recordBody(t, uuid.NewString()))
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"run_id":`},
		{"bad run id", string(recordBody(t, "not-a-uuid"))},
		{"missing program", strings.Replace(valid, `"program_name":"train.py"`, `"program_name":""`, 1)},
		{"bad timestamp", strings.Replace(valid, `"started_at":"2025-01-01T12:00:00+00:00"`, `"started_at":"noon"`, 1)},
		{"reversed window", strings.Replace(valid, `"started_at":"2025-01-01T12:00:00+00:00"`, `"started_at":"2025-01-01T13:00:00+00:00"`, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ingest(t, h, []byte(tt.body))
			if w.Code != http.StatusUnprocessableEntity {
				t.Errorf("StatusCode = %d, want 422: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestIngestDuplicateConflict(t *testing.T) {
	h := NewServer(ServerConfig{}, openTestStore(t)).Handler()
	body := recordBody(t, uuid.NewString())

	if w := ingest(t, h, body); w.Code != http.StatusCreated {
		t.Fatalf("first ingest = %d", w.Code)
	}
	if w := ingest(t, h, body); w.Code != http.StatusConflict {
		t.Errorf("second ingest = %d, want 409", w.Code)
	}
}

type failingStore struct{}

func (failingStore) Insert(context.Context, *glia.JobMetrics) (*store.Job, error) {
	return nil, errors.New("disk full")
}

func (failingStore) List(context.Context, int) ([]store.Job, error) {
	return nil, errors.New("disk full")
}

func TestIngestStoreFailure(t *testing.T) {
	h := NewServer(ServerConfig{}, failingStore{}).Handler()

	w := ingest(t, h, recordBody(t, uuid.NewString()))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/telemetry", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("list StatusCode = %d, want 500", w.Code)
	}
}

func TestIngestRateLimited(t *testing.T) {
	h := NewServer(ServerConfig{Rate: 1}, openTestStore(t)).Handler()

	if w := ingest(t, h, recordBody(t, uuid.NewString())); w.Code != http.StatusCreated {
		t.Fatalf("first ingest = %d", w.Code)
	}
	if w := ingest(t, h, recordBody(t, uuid.NewString())); w.Code != http.StatusTooManyRequests {
		t.Errorf("second ingest = %d, want 429", w.Code)
	}
}

func TestIngestMethodNotAllowed(t *testing.T) {
	h := NewServer(ServerConfig{}, openTestStore(t)).Handler()

	req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("StatusCode = %d, want 405", w.Code)
	}
}

func TestTelemetryList(t *testing.T) {
	h := NewServer(ServerConfig{}, openTestStore(t)).Handler()

	var runIDs []string
	for range 3 {
		id := uuid.NewString()
		runIDs = append(runIDs, id)
		if w := ingest(t, h, recordBody(t, id)); w.Code != http.StatusCreated {
			t.Fatalf("ingest = %d", w.Code)
		}
	}

	tests := []struct {
		name  string
		query string
		want  int
		code  int
	}{
		{"default limit", "", 3, http.StatusOK},
		{"explicit limit", "?limit=2", 2, http.StatusOK},
		{"zero limit", "?limit=0", 0, http.StatusOK},
		{"bad limit", "?limit=abc", 0, http.StatusUnprocessableEntity},
		{"negative limit", "?limit=-1", 0, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/telemetry"+tt.query, nil)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.code {
				t.Fatalf("StatusCode = %d, want %d", w.Code, tt.code)
			}
			if tt.code != http.StatusOK {
				return
			}

			var jobs []store.Job
			if err := json.Unmarshal(w.Body.Bytes(), &jobs); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(jobs) != tt.want {
				t.Fatalf("got %d jobs, want %d", len(jobs), tt.want)
			}
			for i, j := range jobs {
				if j.RunID != runIDs[i] {
					t.Errorf("jobs[%d].RunID = %q, want %q", i, j.RunID, runIDs[i])
				}
			}
		})
	}
}

func TestHealth(t *testing.T) {
	h := NewServer(ServerConfig{Version: "1.2.3"}, nil).Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("StatusCode = %d, want 200", w.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" || resp.Version != "1.2.3" {
		t.Errorf("health = %+v", resp)
	}
}

func TestTransmitterAgainstCollector(t *testing.T) {
	st := openTestStore(t)
	srv := httptest.NewServer(NewServer(ServerConfig{}, st).Handler())
	defer srv.Close()

	tr := glia.NewTransmitter(glia.TransmitterConfig{BaseURL: srv.URL + "/"})
	s := glia.Begin("roundtrip", glia.WithSender(tr), glia.WithArgs([]string{"train.py", "--fast"}))
	s.LogMetadata(map[string]any{"batch": 7})
	s.End(nil)

	jobs, err := st.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 stored job, got %d", len(jobs))
	}
	got := jobs[0]
	if got.RunID != s.Metrics().RunID {
		t.Errorf("RunID = %q, want %q", got.RunID, s.Metrics().RunID)
	}
	if got.ProgramName != "train.py:roundtrip" {
		t.Errorf("ProgramName = %q", got.ProgramName)
	}
	if len(got.Argv) != 1 || got.Argv[0] != "--fast" {
		t.Errorf("Argv = %v", got.Argv)
	}
	if got.Meta["batch"] != float64(7) {
		t.Errorf("Meta = %v", got.Meta)
	}
	if !got.StartedAt.Equal(s.Metrics().StartedAt) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, s.Metrics().StartedAt)
	}
}
