package watch

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/charmbracelet/bubbles/table"

	"github.com/mattjoyce/zonectl/internal/dispatch"
	"github.com/mattjoyce/zonectl/internal/events"
)

// ZoneState is the watch view of one zone worker. Snapshots from /zones
// replace it; events adjust it in between.
type ZoneState struct {
	Name        string
	Device      string
	Discovered  bool
	Pending     int
	Running     string
	Executed    int64
	Failed      int64
	Stopped     bool
	LastCommand string
	LastError   string
}

type eventData struct {
	Zone    string `json:"zone"`
	Device  string `json:"device"`
	Command string `json:"command"`
	Error   string `json:"error"`
}

func getOrCreateZone(zones map[string]*ZoneState, name string) *ZoneState {
	z, ok := zones[name]
	if !ok {
		z = &ZoneState{Name: name}
		zones[name] = z
	}
	return z
}

// applyEvent folds a dispatcher event into the zone table.
func applyEvent(zones map[string]*ZoneState, e events.Event) {
	var d eventData
	if err := json.Unmarshal(e.Data, &d); err != nil || d.Zone == "" {
		return
	}
	z := getOrCreateZone(zones, d.Zone)

	switch e.Type {
	case events.ZoneAvailable:
		z.Discovered = true
		z.Device = d.Device
	case events.CommandQueued:
		z.Pending++
	case events.CommandStarted:
		z.Pending = max(0, z.Pending-1)
		z.Running = d.Command
	case events.CommandFinished:
		z.Running = ""
		z.Executed++
		z.LastCommand = d.Command
		if d.Error != "" {
			z.Failed++
			z.LastError = d.Error
		}
	case events.ZoneStopped:
		z.Stopped = true
	}
}

// applySnapshot replaces counters with the server's view.
func applySnapshot(zones map[string]*ZoneState, statuses []dispatch.ZoneStatus) {
	for _, st := range statuses {
		z := getOrCreateZone(zones, st.Zone)
		z.Discovered = st.Discovered
		z.Device = st.Device
		z.Pending = st.Pending
		z.Executed = st.Executed
		z.Failed = st.Failed
		z.Stopped = st.Halted
		if !st.Executing {
			z.Running = ""
		}
	}
}

func zoneColumns() []table.Column {
	return []table.Column{
		{Title: "ST", Width: 2},
		{Title: "Zone", Width: 16},
		{Title: "Device", Width: 16},
		{Title: "Pending", Width: 7},
		{Title: "Running", Width: 16},
		{Title: "Done", Width: 6},
		{Title: "Failed", Width: 6},
	}
}

// zoneRows renders zones sorted by name.
func zoneRows(zones map[string]*ZoneState, theme Theme) []table.Row {
	names := make([]string, 0, len(zones))
	for name := range zones {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]table.Row, 0, len(names))
	for _, name := range names {
		z := zones[name]
		device := z.Device
		if !z.Discovered {
			device = "-"
		}
		rows = append(rows, table.Row{
			zoneSymbol(z, theme),
			z.Name,
			device,
			strconv.Itoa(z.Pending),
			z.Running,
			strconv.FormatInt(z.Executed, 10),
			strconv.FormatInt(z.Failed, 10),
		})
	}
	return rows
}

func zoneSymbol(z *ZoneState, theme Theme) string {
	switch {
	case z.Stopped:
		return theme.Stopped.Render("■")
	case z.Running != "":
		return theme.Busy.Render("◉")
	case !z.Discovered:
		return theme.Waiting.Render("○")
	case z.LastError != "":
		return theme.Bad.Render("∅")
	default:
		return theme.Good.Render("●")
	}
}
