// cmd/jobs.go
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/glia-dev/glia/internal/store"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
	labelColor  = color.New(color.Bold)
)

var jobsLimit int

// programColumnMin keeps the program column readable on narrow terminals.
const programColumnMin = 16

var jobsCmd = &cobra.Command{
	Use:     "jobs",
	Aliases: []string{"ls", "telemetry"},
	Short:   "List job records stored by a collector",
	Example: `  # Latest records from the collector in GLIA_API_URL
  glia jobs

  # First 20 records from a specific collector
  glia jobs --api-url http://collector:8000 --limit 20`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return err
		}
		if cfg.Client.APIURL == "" {
			return fmt.Errorf("no collector configured: set GLIA_API_URL or pass --api-url")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Client.Timeout)
		defer cancel()

		jobs, err := fetchJobs(ctx, http.DefaultClient, cfg.Client.APIURL, jobsLimit)
		if err != nil {
			return err
		}
		printJobs(cmd.OutOrStdout(), jobs, terminalWidth())
		return nil
	},
}

// fetchJobs reads GET <base>/telemetry?limit=N.
func fetchJobs(ctx context.Context, client *http.Client, baseURL string, limit int) ([]store.Job, error) {
	endpoint := strings.TrimRight(baseURL, "/") + "/telemetry"
	if limit > 0 {
		endpoint += "?" + url.Values{"limit": {strconv.Itoa(limit)}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query collector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("collector returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var jobs []store.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	return jobs, nil
}

// cell is one table value; c colors it after padding is measured.
type cell struct {
	text string
	c    *color.Color
}

func printJobs(out io.Writer, jobs []store.Job, width int) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No job records.")
		return
	}

	programWidth := programColumnWidth(jobs, width)

	header := []string{"ID", "PROGRAM", "USER", "STARTED", "WALL", "CPU%", "PEAK MB", "EXIT"}
	rows := make([][]cell, 0, len(jobs)+1)
	headerRow := make([]cell, len(header))
	for i, h := range header {
		headerRow[i] = cell{text: h, c: headerColor}
	}
	rows = append(rows, headerRow)

	for _, j := range jobs {
		rows = append(rows, []cell{
			{text: strconv.FormatInt(j.ID, 10)},
			{text: runewidth.Truncate(j.ProgramName, programWidth, "…")},
			{text: j.UserName},
			{text: j.StartedAt.Local().Format("2006-01-02 15:04:05")},
			{text: formatSeconds(j.WallTimeSec)},
			percentCell(j.CPUPercent),
			{text: fmt.Sprintf("%.2f", j.MaxRSSMB)},
			exitCell(j.ExitCode),
		})
	}

	writeTable(out, rows)
}

// writeTable pads every column to its widest visible value. Padding is
// computed on the plain text so color escapes do not shift columns.
func writeTable(out io.Writer, rows [][]cell) {
	var widths []int
	for _, row := range rows {
		for i, c := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], runewidth.StringWidth(c.text))
		}
	}

	var b strings.Builder
	for _, row := range rows {
		b.Reset()
		for i, c := range row {
			text := c.text
			if c.c != nil {
				text = c.c.Sprint(text)
			}
			b.WriteString(text)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-runewidth.StringWidth(c.text)+2))
			}
		}
		fmt.Fprintln(out, b.String())
	}
}

// programColumnWidth fits the program column into the terminal, leaving
// room for the fixed-width columns.
func programColumnWidth(jobs []store.Job, width int) int {
	longest := 0
	for _, j := range jobs {
		longest = max(longest, runewidth.StringWidth(j.ProgramName))
	}
	if width <= 0 {
		return longest
	}
	const fixedColumns = 80
	return max(programColumnMin, min(longest, width-fixedColumns))
}

func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return width
}

func formatSeconds(sec float64) string {
	return (time.Duration(sec * float64(time.Second))).Round(time.Millisecond).String()
}

func percentCell(p float64) cell {
	c := cell{text: fmt.Sprintf("%.1f", p)}
	switch {
	case p >= 90:
		c.c = badColor
	case p >= 50:
		c.c = warnColor
	default:
		c.c = goodColor
	}
	return c
}

func exitCell(code int) cell {
	if code == 0 {
		return cell{text: "ok", c: goodColor}
	}
	return cell{text: fmt.Sprintf("failed (%d)", code), c: badColor}
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 0, "maximum number of records (collector default: 100)")
}
