// Package doctor runs advisory checks over a loaded zonectl configuration.
// config.Load already rejects configs that cannot run; doctor reports the ones
// that run but probably do not do what the operator intended.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/zonectl/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateAPIConfig(r)
	d.validateJournal(r)
	d.warnNoZones(r)
	d.warnZoneAddresses(r)
	d.warnDispatchTimings(r)
	d.warnDeviceOptional(r)

	r.Valid = len(r.Errors) == 0
	return r
}

// AddIntegrity merges a config integrity check into r. A changed config is an
// error; an unlocked one is a warning.
func AddIntegrity(r *Result, ir *config.IntegrityResult) {
	for _, msg := range ir.Errors {
		r.Errors = append(r.Errors, Issue{Category: "integrity", Message: msg})
	}
	for _, msg := range ir.Warnings {
		r.Warnings = append(r.Warnings, Issue{Category: "integrity", Message: msg})
	}
	r.Valid = len(r.Errors) == 0
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.API.Listen)
	if err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("listen address %q is not host:port", d.cfg.API.Listen))
		return
	}
	if d.cfg.API.Token == "" && !isLoopback(host) {
		d.addWarning(r, "api", "api.token", "API listens beyond loopback without a token")
	}
	if d.cfg.Journal.Path == "" {
		d.addWarning(r, "api", "journal.path", "journal is disabled; /zones/{zone}/history will answer 404")
	}
}

func (d *Doctor) validateJournal(r *Result) {
	path := d.cfg.Journal.Path
	if path == "" || path == ":memory:" {
		return
	}
	if st, err := os.Stat(path); err == nil && st.IsDir() {
		d.addError(r, "journal", "journal.path", fmt.Sprintf("%q is a directory", path))
	}
}

func (d *Doctor) warnNoZones(r *Result) {
	if len(d.cfg.Zones) == 0 {
		d.addWarning(r, "zones", "zones", "no zones configured; dispatched commands will never find a device")
	}
}

func (d *Doctor) warnZoneAddresses(r *Result) {
	for i, z := range d.cfg.Zones {
		if strings.TrimSpace(z.Address) == "" {
			d.addWarning(r, "zones", fmt.Sprintf("zones[%d].address", i),
				fmt.Sprintf("zone %q has no address", z.Name))
		}
	}
}

func (d *Doctor) warnDispatchTimings(r *Result) {
	var latest time.Duration
	var latestZone string
	for _, z := range d.cfg.Zones {
		if z.DiscoverAfter > latest {
			latest, latestZone = z.DiscoverAfter, z.Name
		}
	}
	if latest == 0 {
		return
	}

	dc := d.cfg.Dispatch
	if dc.DrainTimeout > 0 && dc.DrainTimeout <= latest {
		d.addWarning(r, "dispatch", "dispatch.drain_timeout",
			fmt.Sprintf("drain_timeout %s ends before zone %q is discovered (%s)", dc.DrainTimeout, latestZone, latest))
	}
	if dc.SettleTimeout > 0 && dc.SettleTimeout <= latest {
		d.addWarning(r, "dispatch", "dispatch.settle_timeout",
			fmt.Sprintf("settle_timeout %s ends before zone %q is discovered (%s)", dc.SettleTimeout, latestZone, latest))
	}
}

func (d *Doctor) warnDeviceOptional(r *Result) {
	if !d.cfg.Dispatch.RequiresDevice() {
		d.addWarning(r, "dispatch", "dispatch.require_device",
			"commands run before discovery and fail with no device attached")
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid {
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	} else {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, label string, is Issue) {
	if is.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", label, is.Category, is.Field, is.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", label, is.Category, is.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
