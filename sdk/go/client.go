package dronecoordsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal dronecoord HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v0",
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// Pilot represents the API pilot model (partial).
type Pilot struct {
	ID                string   `json:"pilot_id"`
	Name              string   `json:"name"`
	Skills            []string `json:"skills"`
	Certifications    []string `json:"certifications"`
	Location          string   `json:"location"`
	Status            string   `json:"status"`
	CurrentAssignment string   `json:"current_assignment,omitempty"`
}

// Drone represents the API drone model (partial).
type Drone struct {
	ID                string   `json:"drone_id"`
	Model             string   `json:"model"`
	Capabilities      []string `json:"capabilities"`
	Status            string   `json:"status"`
	Location          string   `json:"location"`
	CurrentAssignment string   `json:"current_assignment,omitempty"`
	MaintenanceDue    *string  `json:"maintenance_due"`
}

// Mission represents the API mission model (partial).
type Mission struct {
	ID                     string   `json:"mission_id"`
	Client                 string   `json:"client"`
	Location               string   `json:"location"`
	RequiredSkills         []string `json:"required_skills"`
	RequiredCertifications []string `json:"required_certs"`
	StartDate              *string  `json:"start_date"`
	EndDate                *string  `json:"end_date"`
	Priority               string   `json:"priority"`
}

// Candidate is one ranked pilot or drone.
type Candidate struct {
	Kind           string `json:"kind"`
	ID             string `json:"id"`
	Status         string `json:"status"`
	Eligible       bool   `json:"eligible"`
	Available      bool   `json:"available"`
	LocationMatch  bool   `json:"location_match"`
	CurrentMission string `json:"current_mission,omitempty"`
}

// Ranking lists eligible candidates in rank order.
type Ranking struct {
	MissionID string      `json:"mission_id"`
	Kind      string      `json:"kind"`
	Eligible  []Candidate `json:"eligible"`
	Rejected  []Candidate `json:"rejected"`
}

// Slot is one side of a proposal. Reason is set when no resource fits.
type Slot struct {
	Kind     string `json:"kind"`
	ID       string `json:"id,omitempty"`
	Absent   bool   `json:"absent"`
	Reason   string `json:"reason,omitempty"`
	Override bool   `json:"override"`
}

// Conflict is one detected conflict.
type Conflict struct {
	Kind         string   `json:"kind"`
	ResourceKind string   `json:"resource_kind"`
	SubjectID    string   `json:"subject_id"`
	MissionIDs   []string `json:"mission_ids"`
	Detail       string   `json:"detail"`
}

// ConflictReport is the result of a detection pass.
type ConflictReport struct {
	Conflicts []Conflict `json:"conflicts"`
}

// Ticket is a proposal and the token that confirms it.
type Ticket struct {
	ID            string     `json:"id"`
	MissionID     string     `json:"mission_id"`
	Mode          string     `json:"mode"`
	Pilot         Slot       `json:"pilot"`
	Drone         Slot       `json:"drone"`
	DisplacedFrom string     `json:"displaced_from,omitempty"`
	Caveats       []Conflict `json:"caveats"`
	Explanation   []string   `json:"explanation"`
	TicketID      string     `json:"ticket_id,omitempty"`
	Token         string     `json:"token,omitempty"`
}

// Outcome is the result of a confirm or discard.
type Outcome struct {
	TicketID   string `json:"ticket_id"`
	ProposalID string `json:"proposal_id,omitempty"`
	State      string `json:"state"`
	Assignment struct {
		MissionID string `json:"mission_id"`
		PilotID   string `json:"pilot_id,omitempty"`
		DroneID   string `json:"drone_id,omitempty"`
	} `json:"assignment"`
	Displaced string `json:"displaced_from,omitempty"`
	EventID   int64  `json:"event_id,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// ChatReply is the shell's answer to one message.
type ChatReply struct {
	SessionID string          `json:"session_id,omitempty"`
	Intent    string          `json:"intent"`
	Text      string          `json:"text"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Pilots lists pilots. Keys of filter are skill, certification, location
// and status.
func (c *Client) Pilots(ctx context.Context, filter map[string]string) ([]Pilot, error) {
	var resp []Pilot
	err := c.do(ctx, http.MethodGet, withQuery("pilots", filter), nil, &resp)
	return resp, err
}

// Drones lists drones. Keys of filter are capability, location, status and
// maintenance_due_before.
func (c *Client) Drones(ctx context.Context, filter map[string]string) ([]Drone, error) {
	var resp []Drone
	err := c.do(ctx, http.MethodGet, withQuery("drones", filter), nil, &resp)
	return resp, err
}

// Missions lists missions.
func (c *Client) Missions(ctx context.Context) ([]Mission, error) {
	var resp []Mission
	err := c.do(ctx, http.MethodGet, "missions", nil, &resp)
	return resp, err
}

// Rank ranks pilots or drones for a mission. kind is "pilot" or "drone".
func (c *Client) Rank(ctx context.Context, missionID, kind string) (Ranking, error) {
	var resp Ranking
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("missions/%s/candidates/%s", url.PathEscape(missionID), url.PathEscape(kind)), nil, &resp)
	return resp, err
}

// Conflicts runs conflict detection.
func (c *Client) Conflicts(ctx context.Context) (ConflictReport, error) {
	var resp ConflictReport
	err := c.do(ctx, http.MethodGet, "conflicts", nil, &resp)
	return resp, err
}

// Suggest asks for a pilot and drone for a mission.
func (c *Client) Suggest(ctx context.Context, missionID string) (Ticket, error) {
	var resp Ticket
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("missions/%s/suggest", url.PathEscape(missionID)), nil, &resp)
	return resp, err
}

// Urgent asks for a least-impact urgent reassignment.
func (c *Client) Urgent(ctx context.Context, missionID string) (Ticket, error) {
	var resp Ticket
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("missions/%s/urgent", url.PathEscape(missionID)), nil, &resp)
	return resp, err
}

// Confirm applies the proposal carried by token.
func (c *Client) Confirm(ctx context.Context, token string) (Outcome, error) {
	var resp Outcome
	err := c.do(ctx, http.MethodPost, "proposals/confirm", map[string]any{"token": token}, &resp)
	return resp, err
}

// Discard drops the proposal carried by token.
func (c *Client) Discard(ctx context.Context, token string) (Outcome, error) {
	var resp Outcome
	err := c.do(ctx, http.MethodPost, "proposals/discard", map[string]any{"token": token}, &resp)
	return resp, err
}

// Assign confirms an assignment named by ids.
func (c *Client) Assign(ctx context.Context, missionID, pilotID, droneID string) (Outcome, error) {
	body := map[string]any{}
	if pilotID != "" {
		body["pilot_id"] = pilotID
	}
	if droneID != "" {
		body["drone_id"] = droneID
	}
	var resp Outcome
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("missions/%s/assign", url.PathEscape(missionID)), body, &resp)
	return resp, err
}

// SetPilotStatus updates a pilot's status.
func (c *Client) SetPilotStatus(ctx context.Context, pilotID, status string) (Pilot, error) {
	var resp Pilot
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("pilots/%s/status", url.PathEscape(pilotID)), map[string]any{"status": status}, &resp)
	return resp, err
}

// SetDroneStatus updates a drone's status.
func (c *Client) SetDroneStatus(ctx context.Context, droneID, status string) (Drone, error) {
	var resp Drone
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("drones/%s/status", url.PathEscape(droneID)), map[string]any{"status": status}, &resp)
	return resp, err
}

// Chat sends one free-text message. Messages sharing a session id share
// the last proposal.
func (c *Client) Chat(ctx context.Context, sessionID, message string) (ChatReply, error) {
	var resp ChatReply
	err := c.do(ctx, http.MethodPost, "chat", map[string]any{"message": message, "session_id": sessionID}, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := map[string]string{}
	if limit > 0 {
		q["limit"] = fmt.Sprintf("%d", limit)
	}
	if cursor != "" {
		q["cursor"] = cursor
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func withQuery(endpoint string, q map[string]string) string {
	values := url.Values{}
	for k, v := range q {
		if v != "" {
			values.Set(k, v)
		}
	}
	if len(values) == 0 {
		return endpoint
	}
	return endpoint + "?" + values.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
