package glia

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the wire format of started_at and ended_at: ISO-8601
// with microsecond precision and an explicit UTC offset ("+00:00").
const TimestampLayout = "2006-01-02T15:04:05.999999-07:00"

// JobMetrics is the record produced when a measurement window closes.
// It is not modified after Capture returns it.
type JobMetrics struct {
	RunID        string
	ProgramName  string
	UserName     string
	ScriptSHA256 string

	Hostname   string
	OSInfo     string
	ScriptPath string // empty when the run has no script file
	Argv       []string

	WallTimeSec float64
	StartedAt   time.Time
	EndedAt     time.Time

	CPUTimeSec float64
	CPUPercent float64
	MaxRSSMB   float64

	ExitCode int

	Meta map[string]any
}

type wireMetrics struct {
	RunID        string         `json:"run_id"`
	ProgramName  string         `json:"program_name"`
	UserName     string         `json:"user_name"`
	ScriptSHA256 string         `json:"script_sha256"`
	Hostname     string         `json:"hostname"`
	OSInfo       string         `json:"os_info"`
	ScriptPath   *string        `json:"script_path"`
	Argv         []string       `json:"argv"`
	WallTimeSec  float64        `json:"wall_time_sec"`
	StartedAt    string         `json:"started_at"`
	EndedAt      string         `json:"ended_at"`
	CPUTimeSec   float64        `json:"cpu_time_sec"`
	CPUPercent   float64        `json:"cpu_percent"`
	MaxRSSMB     float64        `json:"max_rss_mb"`
	ExitCode     int            `json:"exit_code_int"`
	Meta         map[string]any `json:"meta"`
}

// MarshalJSON encodes the record as the flat object accepted by the collector.
func (m JobMetrics) MarshalJSON() ([]byte, error) {
	w := wireMetrics{
		RunID:        m.RunID,
		ProgramName:  m.ProgramName,
		UserName:     m.UserName,
		ScriptSHA256: m.ScriptSHA256,
		Hostname:     m.Hostname,
		OSInfo:       m.OSInfo,
		Argv:         m.Argv,
		WallTimeSec:  m.WallTimeSec,
		StartedAt:    m.StartedAt.UTC().Format(TimestampLayout),
		EndedAt:      m.EndedAt.UTC().Format(TimestampLayout),
		CPUTimeSec:   m.CPUTimeSec,
		CPUPercent:   m.CPUPercent,
		MaxRSSMB:     m.MaxRSSMB,
		ExitCode:     m.ExitCode,
		Meta:         m.Meta,
	}
	if m.ScriptPath != "" {
		path := m.ScriptPath
		w.ScriptPath = &path
	}
	if w.Argv == nil {
		w.Argv = []string{}
	}
	if w.Meta == nil {
		w.Meta = map[string]any{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the collector wire format. Timestamps must carry a UTC offset.
func (m *JobMetrics) UnmarshalJSON(data []byte) error {
	var w wireMetrics
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	startedAt, err := time.Parse(time.RFC3339Nano, w.StartedAt)
	if err != nil {
		return fmt.Errorf("started_at: %w", err)
	}
	endedAt, err := time.Parse(time.RFC3339Nano, w.EndedAt)
	if err != nil {
		return fmt.Errorf("ended_at: %w", err)
	}

	*m = JobMetrics{
		RunID:        w.RunID,
		ProgramName:  w.ProgramName,
		UserName:     w.UserName,
		ScriptSHA256: w.ScriptSHA256,
		Hostname:     w.Hostname,
		OSInfo:       w.OSInfo,
		Argv:         w.Argv,
		WallTimeSec:  w.WallTimeSec,
		StartedAt:    startedAt.UTC(),
		EndedAt:      endedAt.UTC(),
		CPUTimeSec:   w.CPUTimeSec,
		CPUPercent:   w.CPUPercent,
		MaxRSSMB:     w.MaxRSSMB,
		ExitCode:     w.ExitCode,
		Meta:         w.Meta,
	}
	if w.ScriptPath != nil {
		m.ScriptPath = *w.ScriptPath
	}
	if m.Argv == nil {
		m.Argv = []string{}
	}
	if m.Meta == nil {
		m.Meta = map[string]any{}
	}
	return nil
}

// String renders a multi-line summary suitable for terminal output.
func (m *JobMetrics) String() string {
	digest := m.ScriptSHA256
	if len(digest) > 8 {
		digest = digest[:8]
	}

	var b strings.Builder
	b.WriteString("\n--- Glia Telemetry ---\n")
	fmt.Fprintf(&b, "Run ID:     %s\n", m.RunID)
	fmt.Fprintf(&b, "User:       %s on %s\n", m.UserName, m.Hostname)
	fmt.Fprintf(&b, "OS:         %s\n", m.OSInfo)
	fmt.Fprintf(&b, "Program:    %s (%s...)\n", m.ProgramName, digest)
	fmt.Fprintf(&b, "Arguments:  %s\n", strings.Join(m.Argv, " "))
	fmt.Fprintf(&b, "Time:       %s -> %s\n",
		m.StartedAt.UTC().Format("2006-01-02 15:04:05 UTC"),
		m.EndedAt.UTC().Format("15:04:05 UTC"))
	fmt.Fprintf(&b, "Wall Time:  %.4f sec\n", m.WallTimeSec)
	fmt.Fprintf(&b, "CPU Time:   %.4f sec (%g%% avg)\n", m.CPUTimeSec, m.CPUPercent)
	fmt.Fprintf(&b, "Peak RAM:   %.2f MB\n", m.MaxRSSMB)
	fmt.Fprintf(&b, "Exit Code:  %d\n", m.ExitCode)
	fmt.Fprintf(&b, "User-defined Metadata:    %v", m.Meta)
	return b.String()
}
