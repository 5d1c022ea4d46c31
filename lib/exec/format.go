/*
Copyright 2025 WillIsback

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package exec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gravitational/trace"
)

// Summary aggregates one execution sweep.
type Summary struct {
	Total             int     `json:"total"`
	Success           int     `json:"success"`
	Failed            int     `json:"failed"`
	TotalDurationSecs float64 `json:"total_duration_secs"`
}

// jsonResult is the wire form of one host result. A timed out host
// reports a null exit code.
type jsonResult struct {
	Host         string  `json:"host"`
	ExitCode     *int    `json:"exit_code"`
	Stdout       string  `json:"stdout"`
	Stderr       string  `json:"stderr"`
	DurationSecs float64 `json:"duration_secs"`
	Success      bool    `json:"success"`
}

type jsonDocument struct {
	Summary Summary      `json:"summary"`
	Results []jsonResult `json:"results"`
}

// Summarize computes the aggregate counters for a sweep.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			s.Success++
		} else {
			s.Failed++
		}
		s.TotalDurationSecs += r.Duration.Seconds()
	}
	return s
}

// FormatJSON renders the machine-readable document.
func FormatJSON(results []Result) ([]byte, error) {
	doc := jsonDocument{
		Summary: Summarize(results),
		Results: make([]jsonResult, 0, len(results)),
	}
	for _, r := range results {
		jr := jsonResult{
			Host:         r.Host,
			Stdout:       r.Stdout,
			Stderr:       r.Stderr,
			DurationSecs: r.Duration.Seconds(),
			Success:      r.Success,
		}
		if !r.TimedOut && r.Err == nil {
			code := r.ExitCode
			jr.ExitCode = &code
		}
		doc.Results = append(doc.Results, jr)
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

// FormatText renders per-host blocks for a terminal.
func FormatText(results []Result, captureStderr bool) string {
	var sb strings.Builder
	for _, r := range results {
		fmt.Fprintf(&sb, "Host: %v\n", r.Host)
		switch {
		case r.TimedOut:
			fmt.Fprintf(&sb, "  Status: timed out after %.2fs\n", r.Duration.Seconds())
		case r.Err != nil:
			fmt.Fprintf(&sb, "  Status: error: %v\n", r.Err)
		case r.Success:
			fmt.Fprintf(&sb, "  Status: ok (%.2fs)\n", r.Duration.Seconds())
		default:
			fmt.Fprintf(&sb, "  Status: exit code %v (%.2fs)\n", r.ExitCode, r.Duration.Seconds())
		}
		if r.Stdout != "" {
			sb.WriteString("  Stdout:\n")
			writeIndented(&sb, r.Stdout)
		}
		if captureStderr && r.Stderr != "" {
			sb.WriteString("  Stderr:\n")
			writeIndented(&sb, r.Stderr)
		}
		sb.WriteString(strings.Repeat("-", 60) + "\n")
	}
	s := Summarize(results)
	fmt.Fprintf(&sb, "Summary: %v/%v succeeded, %v failed (%.2fs total)\n",
		s.Success, s.Total, s.Failed, s.TotalDurationSecs)
	return sb.String()
}

func writeIndented(sb *strings.Builder, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		fmt.Fprintf(sb, "    %v\n", line)
	}
}
