package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/energizer-project/craftkeeper/internal/db"
	"github.com/energizer-project/craftkeeper/internal/monitor"
	"github.com/energizer-project/craftkeeper/internal/ping"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	return tw
}

func onlineText(online bool) string {
	if online {
		return "ONLINE"
	}
	return "OFFLINE"
}

func latencyText(online bool, ms uint64) string {
	if !online {
		return "-"
	}
	return fmt.Sprintf("%d ms", ms)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// RenderOutcomes prints one row per probe.
func RenderOutcomes(w io.Writer, outs []ping.Outcome) {
	tw := newTable(w, "#", "Target", "Status", "Latency", "Failed At", "Error")
	for i, out := range outs {
		r := out.Report()
		tw.Append([]string{
			strconv.Itoa(i + 1),
			r.Target,
			onlineText(r.Online),
			latencyText(r.Online, r.LatencyMs),
			orDash(r.FailedAt),
			orDash(r.ErrorKind),
		})
	}
	tw.Render()
}

// PingSummary aggregates repeated probes of one target.
type PingSummary struct {
	Target string `json:"target"`
	Sent   int    `json:"sent"`
	Online int    `json:"online"`
	MinMs  uint64 `json:"min_ms"`
	AvgMs  uint64 `json:"avg_ms"`
	MaxMs  uint64 `json:"max_ms"`
}

// LossPercent returns the share of probes that failed.
func (s PingSummary) LossPercent() float64 {
	if s.Sent == 0 {
		return 0
	}
	return float64(s.Sent-s.Online) / float64(s.Sent) * 100
}

// Summarize computes min/avg/max over the online probes.
func Summarize(target ping.Target, outs []ping.Outcome) PingSummary {
	s := PingSummary{Target: target.String(), Sent: len(outs)}
	var total uint64
	for _, out := range outs {
		res := out.Result()
		if !res.Online {
			continue
		}
		if s.Online == 0 || res.Latency < s.MinMs {
			s.MinMs = res.Latency
		}
		if res.Latency > s.MaxMs {
			s.MaxMs = res.Latency
		}
		total += res.Latency
		s.Online++
	}
	if s.Online > 0 {
		s.AvgMs = total / uint64(s.Online)
	}
	return s
}

// RenderSummary prints the closing line of a repeated ping.
func RenderSummary(w io.Writer, s PingSummary) {
	fmt.Fprintf(w, "\n--- %s ping statistics ---\n", s.Target)
	fmt.Fprintf(w, "%d probes, %d online, %.1f%% loss\n", s.Sent, s.Online, s.LossPercent())
	if s.Online > 0 {
		fmt.Fprintf(w, "latency min/avg/max = %d/%d/%d ms\n", s.MinMs, s.AvgMs, s.MaxMs)
	}
}

// RenderSnapshot prints the monitor view of every target.
func RenderSnapshot(w io.Writer, snap []monitor.TargetSnapshot) {
	tw := newTable(w, "Target", "Status", "Since", "Last Latency", "Probes", "Availability")
	for _, s := range snap {
		since := "-"
		if !s.Since.IsZero() {
			since = time.Since(s.Since).Truncate(time.Second).String()
		}
		last := "-"
		if s.LastCheck != nil {
			last = latencyText(s.LastCheck.Online, s.LastCheck.LatencyMs)
		}
		tw.Append([]string{
			s.Target,
			s.Status.String(),
			since,
			last,
			strconv.FormatUint(s.Probes, 10),
			fmt.Sprintf("%.1f%%", s.Availability),
		})
	}
	tw.Render()
}

// RenderSamples prints in-memory monitor samples.
func RenderSamples(w io.Writer, samples []monitor.Sample) {
	tw := newTable(w, "Time", "Status", "Latency", "State", "Error")
	for _, s := range samples {
		tw.Append([]string{
			s.At.Format(time.DateTime),
			onlineText(s.Online),
			latencyText(s.Online, s.LatencyMs),
			s.State,
			orDash(s.ErrorKind),
		})
	}
	tw.Render()
}

// RenderRecords prints stored probes.
func RenderRecords(w io.Writer, records []db.ProbeRecord) {
	tw := newTable(w, "Time", "Target", "Status", "Latency", "State", "Error")
	for _, r := range records {
		tw.Append([]string{
			r.CreatedAt.Format(time.DateTime),
			r.Target,
			onlineText(r.Online),
			latencyText(r.Online, r.LatencyMs),
			orDash(r.State),
			orDash(r.ErrorKind),
		})
	}
	tw.Render()
}

// RenderUptime prints uptime statistics, one row per target.
func RenderUptime(w io.Writer, stats []db.UptimeStats) {
	tw := newTable(w, "Target", "Since", "Samples", "Uptime", "Avg Latency", "Max Latency")
	for _, s := range stats {
		tw.Append([]string{
			s.Target,
			s.Since.Format(time.DateTime),
			strconv.Itoa(s.Samples),
			fmt.Sprintf("%.2f%%", s.UptimePercent),
			fmt.Sprintf("%.1f ms", s.AvgLatencyMs),
			fmt.Sprintf("%d ms", s.MaxLatencyMs),
		})
	}
	tw.Render()
}
