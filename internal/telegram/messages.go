package telegram

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"
)

const stampLayout = "2006-01-02 15:04:05 UTC"

// usageLevel picks the colours for a usage percentage. Levels are ordered
// from the highest floor down.
type usageLevel struct {
	floor float64
	dot   string
	cell  string
}

var usageLevels = []usageLevel{
	{floor: 90, dot: "🔴", cell: "🟥"},
	{floor: 75, dot: "🟡", cell: "🟨"},
	{floor: 0, dot: "🟢", cell: "🟩"},
}

const emptyCell = "⬛"

var severityIcons = map[string]string{
	"critical":    "🔴",
	"error":       "🔴",
	"warning":     "🟡",
	"warn":        "🟡",
	"info":        "🔵",
	"information": "🔵",
}

func levelFor(pct float64) usageLevel {
	for _, l := range usageLevels {
		if pct >= l.floor {
			return l
		}
	}
	return usageLevels[len(usageLevels)-1]
}

// clamp bounds pct to [0, 100] for display.
func clamp(pct float64) float64 {
	return min(max(pct, 0), 100)
}

// meter draws pct as a row of cells coloured by usage level.
func meter(pct float64, cells int) string {
	if cells <= 0 {
		cells = 10
	}
	pct = clamp(pct)
	filled := int(pct / 100 * float64(cells))
	return strings.Repeat(levelFor(pct).cell, filled) + strings.Repeat(emptyCell, cells-filled)
}

func severityIcon(severity string) string {
	if icon, ok := severityIcons[strings.ToLower(severity)]; ok {
		return icon
	}
	return "⚪"
}

func alertText(a Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s Alert</b>\n\n", severityIcon(a.Severity), strings.ToUpper(a.Severity))
	if a.Identity != "" {
		fmt.Fprintf(&b, "Identity: <code>%s</code>\n", html.EscapeString(a.Identity))
	}
	if a.Threshold > 0 {
		pct := clamp(a.Threshold)
		fmt.Fprintf(&b, "%s %.0f%%\n", meter(pct, 10), pct)
	}
	b.WriteString(html.EscapeString(a.Message))
	fmt.Fprintf(&b, "\n\n<i>%s</i>", a.Timestamp.UTC().Format(stampLayout))
	return b.String()
}

// usageReportText lists identities busiest first.
func usageReportText(lines []UsageLine, at time.Time) string {
	rows := append([]UsageLine(nil), lines...)
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PercentUsed == rows[j].PercentUsed {
			return rows[i].Identity < rows[j].Identity
		}
		return rows[i].PercentUsed > rows[j].PercentUsed
	})

	var b strings.Builder
	b.WriteString("<b>📊 Token Usage</b>\n\n")
	if len(rows) == 0 {
		b.WriteString("No tracked identities.\n")
	}
	for _, row := range rows {
		pct := clamp(row.PercentUsed)
		fmt.Fprintf(&b, "• <code>%s</code>\n", html.EscapeString(row.Identity))
		fmt.Fprintf(&b, "  ↳ %s %s %.0f%%\n", levelFor(pct).dot, meter(pct, 8), pct)
		fmt.Fprintf(&b, "    %d used, %d left", row.TokensUsed, row.Remaining)
		if row.ResetAt.After(at) {
			fmt.Fprintf(&b, ", resets in %s", humanize(row.ResetAt.Sub(at)))
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\n<i>%s</i>", at.UTC().Format(stampLayout))
	return b.String()
}

// humanize renders d in its largest unit, adding the next unit for days
// and hours, e.g. "1d 3h" or "45s".
func humanize(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", d/time.Second)
	case d < time.Hour:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d < 24*time.Hour:
		return withRemainder(d, time.Hour, "h", time.Minute, "m")
	default:
		return withRemainder(d, 24*time.Hour, "d", time.Hour, "h")
	}
}

func withRemainder(d, major time.Duration, majorSuffix string, minor time.Duration, minorSuffix string) string {
	out := fmt.Sprintf("%d%s", d/major, majorSuffix)
	if rest := (d % major) / minor; rest > 0 {
		out += fmt.Sprintf(" %d%s", rest, minorSuffix)
	}
	return out
}
