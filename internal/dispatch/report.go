package dispatch

import (
	"fmt"
	"strings"

	"github.com/mattjoyce/zonectl/internal/zone"
)

// ZoneStatus is a point-in-time view of one worker.
type ZoneStatus struct {
	Zone       string `json:"zone"`
	Discovered bool   `json:"discovered"`
	Device     string `json:"device,omitempty"`
	Pending    int    `json:"pending"`
	Executing  bool   `json:"executing"`
	Executed   int64  `json:"executed"`
	Failed     int64  `json:"failed"`
	Halted     bool   `json:"halted"`
}

// Report is the shutdown diagnostic: problems that will be lost and a
// per-zone execution summary.
type Report struct {
	Problems []string     `json:"problems"`
	Summary  []string     `json:"summary"`
	Zones    []ZoneStatus `json:"zones"`
}

// HasProblems reports whether any zone needs attention.
func (r Report) HasProblems() bool { return len(r.Problems) > 0 }

// Status returns the status of a single zone.
func (d *Dispatcher) Status(zoneName string) (ZoneStatus, bool) {
	w, ok := d.Lookup(zoneName)
	if !ok {
		return ZoneStatus{}, false
	}
	return statusOf(w), true
}

// Statuses returns the status of every registered zone, sorted by zone key.
func (d *Dispatcher) Statuses() []ZoneStatus {
	workers := d.snapshot()
	out := make([]ZoneStatus, 0, len(workers))
	for _, w := range workers {
		out = append(out, statusOf(w))
	}
	return out
}

// Summary builds the diagnostic report without logging it.
func (d *Dispatcher) Summary() Report {
	report := Report{Problems: []string{}, Summary: []string{}}
	for _, st := range d.Statuses() {
		report.Zones = append(report.Zones, st)

		if !st.Discovered {
			report.Problems = append(report.Problems,
				fmt.Sprintf("Zone [%s] hasn't been found on the network by discovery", st.Zone))
		} else {
			report.Summary = append(report.Summary,
				fmt.Sprintf("Zone [%s], executed commands count = %d (failed = %d)", st.Zone, st.Executed, st.Failed))
		}
		if st.Pending > 0 {
			report.Problems = append(report.Problems,
				fmt.Sprintf("Zone [%s] has %d awaiting command(s) that won't be processed", st.Zone, st.Pending))
		}
		if st.Executing {
			report.Problems = append(report.Problems,
				fmt.Sprintf("Zone [%s] has 1 running command that will be abandoned", st.Zone))
		}
	}
	return report
}

// LogSummary logs problems at ERROR and the execution summary at INFO, and
// returns the report it logged.
func (d *Dispatcher) LogSummary() Report {
	report := d.Summary()
	if len(report.Problems) > 0 {
		d.logger.Error("problems found before terminating",
			"count", len(report.Problems),
			"report", "\n- "+strings.Join(report.Problems, "\n- "))
	}
	if len(report.Summary) > 0 {
		d.logger.Info("summary",
			"zones", len(report.Summary),
			"report", "\n- "+strings.Join(report.Summary, "\n- "))
	}
	return report
}

func statusOf(w *zone.Worker) ZoneStatus {
	dev := w.Device()
	return ZoneStatus{
		Zone:       w.Key(),
		Discovered: dev != nil,
		Device:     deviceName(dev),
		Pending:    w.QueueLen(),
		Executing:  w.IsExecuting(),
		Executed:   w.ExecutedCount(),
		Failed:     w.FailedCount(),
		Halted:     w.Halted(),
	}
}
