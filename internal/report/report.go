// Package report renders the outcome of a batch of games.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"secrethitler-lite/game"
	"secrethitler-lite/internal/table"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// ChooseFormat resolves "auto" to text on a terminal and JSON otherwise.
func ChooseFormat(pref string, out *os.File) string {
	switch pref {
	case FormatText, FormatJSON:
		return pref
	}
	if out != nil && (isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())) {
		return FormatText
	}
	return FormatJSON
}

// Game is one instance's line in the report.
type Game struct {
	ID               string        `json:"id"`
	Status           string        `json:"status"`
	Winner           string        `json:"winner,omitempty"`
	Reason           string        `json:"reason,omitempty"`
	Rounds           int           `json:"rounds"`
	Liberal          int           `json:"liberal"`
	Fascist          int           `json:"fascist"`
	Calls            int           `json:"calls"`
	Retries          int           `json:"retries"`
	Anomalies        int           `json:"anomalies"`
	PromptTokens     int64         `json:"prompt_tokens"`
	CompletionTokens int64         `json:"completion_tokens"`
	TotalTokens      int64         `json:"total_tokens"`
	AverageLatency   time.Duration `json:"average_latency_ns"`
	Duration         time.Duration `json:"duration_ns"`
	StartedAt        time.Time     `json:"started_at"`
	Error            string        `json:"error,omitempty"`
}

// Batch aggregates a run.
type Batch struct {
	Games            []Game         `json:"games"`
	Wins             map[string]int `json:"wins"`
	Reasons          map[string]int `json:"reasons"`
	Failed           int            `json:"failed"`
	Calls            int            `json:"calls"`
	Retries          int            `json:"retries"`
	Anomalies        int            `json:"anomalies"`
	PromptTokens     int64          `json:"prompt_tokens"`
	CompletionTokens int64          `json:"completion_tokens"`
	TotalTokens      int64          `json:"total_tokens"`
	TotalLatency     time.Duration  `json:"total_latency_ns"`
	AverageLatency   time.Duration  `json:"average_latency_ns"`
	Elapsed          time.Duration  `json:"elapsed_ns"`
}

// Build summarizes outcomes in the order given.
func Build(infos []table.GameEndInfo, elapsed time.Duration) Batch {
	b := Batch{
		Games:   make([]Game, 0, len(infos)),
		Wins:    map[string]int{},
		Reasons: map[string]int{},
		Elapsed: elapsed,
	}
	for _, info := range infos {
		r := info.Result
		m := r.Metrics
		g := Game{
			ID:               info.TableID,
			Status:           info.Status.String(),
			Rounds:           r.Rounds,
			Liberal:          r.Liberal,
			Fascist:          r.Fascist,
			Calls:            m.Calls,
			Retries:          m.Retries,
			Anomalies:        m.Anomalies,
			PromptTokens:     m.PromptTokens,
			CompletionTokens: m.CompletionTokens,
			TotalTokens:      m.TotalTokens,
			AverageLatency:   m.AverageLatency(),
			StartedAt:        info.StartedAt,
		}
		if !info.StartedAt.IsZero() && !info.EndedAt.IsZero() {
			g.Duration = info.EndedAt.Sub(info.StartedAt)
		}
		if r.Winner != game.FactionNone {
			g.Winner = r.Winner.String()
			g.Reason = string(r.Reason)
			b.Wins[g.Winner]++
			b.Reasons[g.Reason]++
		}
		if info.Err != nil {
			g.Error = info.Err.Error()
			b.Failed++
		}
		b.Games = append(b.Games, g)

		b.Calls += m.Calls
		b.Retries += m.Retries
		b.Anomalies += m.Anomalies
		b.PromptTokens += m.PromptTokens
		b.CompletionTokens += m.CompletionTokens
		b.TotalTokens += m.TotalTokens
		b.TotalLatency += m.TotalLatency
	}
	if b.Calls > 0 {
		b.AverageLatency = b.TotalLatency / time.Duration(b.Calls)
	}
	return b
}

// Write renders b in the given format.
func Write(w io.Writer, format string, b Batch) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(b)
	}
	return writeText(w, b)
}

func writeText(w io.Writer, b Batch) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GAME\tSTATUS\tWINNER\tREASON\tROUNDS\tL/F\tTOKENS\tAVG LATENCY\tRETRIES\tANOMALIES\tSTARTED")
	for _, g := range b.Games {
		winner, reason := dash(g.Winner), dash(g.Reason)
		started := "-"
		if !g.StartedAt.IsZero() {
			started = humanize.Time(g.StartedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d/%d\t%s\t%s\t%d\t%d\t%s\n",
			shortID(g.ID), g.Status, winner, reason, g.Rounds, g.Liberal, g.Fascist,
			humanize.Comma(g.TotalTokens), g.AverageLatency.Round(time.Millisecond),
			g.Retries, g.Anomalies, started)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%s games in %s, %s failed\n",
		humanize.Comma(int64(len(b.Games))), b.Elapsed.Round(time.Millisecond), humanize.Comma(int64(b.Failed)))
	for _, name := range sortedKeys(b.Wins) {
		fmt.Fprintf(w, "  %-9s %s wins (%s)\n", name, humanize.Comma(int64(b.Wins[name])), percent(b.Wins[name], len(b.Games)))
	}
	for _, reason := range sortedKeys(b.Reasons) {
		fmt.Fprintf(w, "  by %-17s %s\n", reason, humanize.Comma(int64(b.Reasons[reason])))
	}
	_, err := fmt.Fprintf(w, "tokens: %s prompt + %s completion = %s total (~%s)\ncalls: %s, retries: %s, anomalies: %s, avg latency %s\n",
		humanize.Comma(b.PromptTokens), humanize.Comma(b.CompletionTokens), humanize.Comma(b.TotalTokens),
		humanize.SIWithDigits(float64(b.TotalTokens), 1, ""),
		humanize.Comma(int64(b.Calls)), humanize.Comma(int64(b.Retries)), humanize.Comma(int64(b.Anomalies)),
		b.AverageLatency.Round(time.Millisecond))
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func percent(n, total int) string {
	if total == 0 {
		return "0%"
	}
	return humanize.FtoaWithDigits(float64(n)*100/float64(total), 1) + "%"
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
