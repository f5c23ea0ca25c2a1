package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/zonectl/internal/events"
)

const maxEventLog = 50

func renderEventLines(eventLog []events.Event, theme Theme) string {
	if len(eventLog) == 0 {
		return theme.Dim.Render("  Waiting for events...")
	}
	lines := make([]string, 0, len(eventLog))
	for _, e := range eventLog {
		lines = append(lines, formatEvent(e, theme))
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var d eventData
	_ = json.Unmarshal(e.Data, &d)

	typeStyle := theme.Dim
	switch {
	case e.Type == events.CommandFinished && d.Error != "":
		typeStyle = theme.Bad
	case e.Type == events.CommandFinished:
		typeStyle = theme.Good
	case e.Type == events.CommandStarted:
		typeStyle = theme.Busy
	case e.Type == events.ZoneAvailable:
		typeStyle = theme.Highlight
	case e.Type == events.ZoneStopped:
		typeStyle = theme.Stopped
	}

	return fmt.Sprintf("%s %s %s", ts, typeStyle.Render(fmt.Sprintf("%-17s", e.Type)), describeEvent(e, d))
}

func describeEvent(e events.Event, d eventData) string {
	var parts []string
	if d.Zone != "" {
		parts = append(parts, "["+d.Zone+"]")
	}
	if d.Command != "" {
		parts = append(parts, d.Command)
	}
	if d.Device != "" {
		parts = append(parts, "device="+d.Device)
	}
	if d.Error != "" {
		parts = append(parts, "error="+d.Error)
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}
	return strings.Join(parts, " ")
}
