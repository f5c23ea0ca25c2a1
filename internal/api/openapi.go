package api

import "net/http"

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.config.Token != ""))
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document describing the zone routes.
func buildOpenAPIDoc(secured bool) map[string]any {
	zoneParam := map[string]any{
		"name":        "zone",
		"in":          "path",
		"required":    true,
		"schema":      map[string]any{"type": "string"},
		"description": "Zone name, matched case-insensitively",
	}

	op := func(id, summary string, responses map[string]any, params ...any) map[string]any {
		o := map[string]any{
			"operationId": id,
			"summary":     summary,
			"responses":   responses,
		}
		if len(params) > 0 {
			o["parameters"] = params
		}
		if secured {
			o["security"] = []any{map[string]any{"BearerAuth": []string{}}}
		}
		return o
	}
	ok := func(desc string) map[string]any {
		return map[string]any{"200": map[string]any{"description": desc}}
	}

	commandBody := map[string]any{
		"required": true,
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{
					"type":     "object",
					"required": []string{"action"},
					"properties": map[string]any{
						"action": map[string]any{"type": "string", "example": "volume:level=20"},
						"params": map[string]any{
							"type":                 "object",
							"additionalProperties": map[string]any{"type": "string"},
						},
					},
				},
			},
		},
	}
	dispatchOp := op("dispatchCommand", "Queue a command on a zone", map[string]any{
		"202": map[string]any{"description": "Command queued"},
		"400": map[string]any{"description": "Bad request"},
		"409": map[string]any{"description": "Dispatcher is stopping"},
	}, zoneParam)
	dispatchOp["requestBody"] = commandBody

	doc := map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "zonectl",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/healthz": map[string]any{"get": map[string]any{
				"operationId": "healthz",
				"summary":     "Liveness and queue totals",
				"responses":   ok("Service health"),
			}},
			"/zones": map[string]any{
				"get": op("listZones", "List zone workers", ok("Zone statuses")),
			},
			"/zones/{zone}": map[string]any{
				"get": op("getZone", "Get one zone worker", map[string]any{
					"200": map[string]any{"description": "Zone status"},
					"404": map[string]any{"description": "Zone not found"},
				}, zoneParam),
			},
			"/zones/{zone}/commands": map[string]any{"post": dispatchOp},
			"/zones/{zone}/history": map[string]any{
				"get": op("zoneHistory", "Recent journaled commands for a zone", ok("Journal entries"), zoneParam),
			},
			"/summary": map[string]any{
				"get": op("summary", "Shutdown diagnostic report", ok("Report")),
			},
			"/stop": map[string]any{
				"post": op("stopAll", "Request every zone worker to stop", map[string]any{
					"202": map[string]any{"description": "Stop requested"},
				}),
			},
			"/events": map[string]any{
				"get": op("events", "Server-sent event stream", ok("text/event-stream")),
			},
		},
	}
	if secured {
		doc["components"] = map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		}
	}
	return doc
}
