package api

import (
	"github.com/mattjoyce/zonectl/internal/dispatch"
	"github.com/mattjoyce/zonectl/internal/journal"
)

// CommandRequest is the JSON body for POST /zones/{zone}/commands.
// Action may carry inline params ("volume:level=20") when Params is omitted.
type CommandRequest struct {
	Action string            `json:"action"`
	Params map[string]string `json:"params,omitempty"`
}

// CommandResponse is returned once a command is queued.
type CommandResponse struct {
	CommandID string            `json:"command_id"`
	Zone      string            `json:"zone"`
	Action    string            `json:"action"`
	Params    map[string]string `json:"params,omitempty"`
	Status    string            `json:"status"`
}

// ZoneListResponse is returned by GET /zones.
type ZoneListResponse struct {
	Zones []dispatch.ZoneStatus `json:"zones"`
}

// HistoryResponse is returned by GET /zones/{zone}/history.
type HistoryResponse struct {
	Zone    string          `json:"zone"`
	Entries []journal.Entry `json:"entries"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Zones         int    `json:"zones"`
	Pending       int    `json:"pending"`
	Executing     int    `json:"executing"`
	Stopping      bool   `json:"stopping"`
}
