package server

import "dronecoord/internal/domain"

// Request payloads

type TokenRequest struct {
	Token string `json:"token" doc:"Signed proposal token returned by suggest or urgent"`
}

type AssignRequest struct {
	PilotID string `json:"pilot_id,omitempty"`
	DroneID string `json:"drone_id,omitempty"`
}

type StatusRequest struct {
	Status string `json:"status" example:"On Leave"`
}

type ChatRequest struct {
	Message string `json:"message"`
	// SessionID keeps the last proposal between requests so a bare
	// "confirm" can refer to it.
	SessionID string `json:"session_id,omitempty"`
}

// Response payloads

type ChatResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Intent    string `json:"intent"`
	Text      string `json:"text"`
	Data      any    `json:"data,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
