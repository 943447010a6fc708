package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dronecoord/internal/app"
	"dronecoord/internal/config"
	"dronecoord/internal/domain"
	"dronecoord/internal/engine"
	"dronecoord/internal/repo"
	"dronecoord/internal/sheets"
)

// Config for the HTTP API handler.
type Config struct {
	Coordinator *app.Coordinator
	// Journal backs the event listing and webhook delivery. Both are
	// disabled when it is nil.
	Journal  *repo.Journal
	Webhooks []config.WebhookHook
	Vocab    config.ShellConfig
	BasePath string
	Auth     AuthConfig
	Log      *zap.Logger
}

func (c Config) log() *zap.Logger {
	if c.Log != nil {
		return c.Log
	}
	return zap.NewNop()
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"write_back_failed"`
	Message string         `json:"message" example:"write-back failed for mission PRJ002"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"mission_id\":\"PRJ002\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the coordinator API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Coordinator == nil {
		return nil, errors.New("server: coordinator is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.log().Named("auth")
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Dronecoord API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	api.OpenAPI().Components.Schemas.RegisterTypeAlias(reflect.TypeOf(domain.Date{}), reflect.TypeOf(""))
	group := huma.NewGroup(api, basePath)

	c := cfg.Coordinator
	registerDocs(router, basePath)
	router.Handle("/metrics", promhttp.Handler())
	registerHealth(group)
	registerRoster(group, c)
	registerMissions(group, c)
	registerConflicts(group, c)
	registerProposals(group, c)
	registerStatus(group, c)
	chats, err := newSessions(c, cfg.Vocab, cfg.log().Named("shell"), maxChatSessions)
	if err != nil {
		return nil, err
	}
	registerChat(group, chats)
	if cfg.Journal != nil {
		registerEvents(group, *cfg.Journal)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var wb *app.WriteBackError
	if errors.As(err, &wb) {
		var details map[string]any
		if wb.MissionID != "" {
			details = map[string]any{"mission_id": wb.MissionID}
		}
		return newAPIError(http.StatusBadGateway, "write_back_failed", err.Error(), details)
	}
	var ue engine.UnknownError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"kind": ue.Kind, "id": ue.ID})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, sheets.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, app.ErrInvalidProposal):
		return newAPIError(http.StatusBadRequest, "invalid_proposal", err.Error(), nil)
	case errors.Is(err, app.ErrInvalidStatus):
		return newAPIError(http.StatusBadRequest, "invalid_status", err.Error(), nil)
	case errors.Is(err, domain.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusBadGateway:
		return "write_back_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Dronecoord API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerRoster(api huma.API, c *app.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-pilots",
		Method:      http.MethodGet,
		Path:        "/pilots",
		Summary:     "List pilots matching a roster filter",
	}, func(ctx context.Context, input *struct {
		Skill         string `query:"skill"`
		Certification string `query:"certification"`
		Location      string `query:"location"`
		Status        string `query:"status"`
	}) (*struct {
		Body []domain.Pilot `json:"body"`
	}, error) {
		pilots, err := c.Pilots(ctx, engine.PilotFilter{
			Skill:         input.Skill,
			Certification: input.Certification,
			Location:      input.Location,
			Status:        input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Pilot `json:"body"`
		}{Body: pilots}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-drones",
		Method:      http.MethodGet,
		Path:        "/drones",
		Summary:     "List drones matching a fleet filter",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Capability           string `query:"capability"`
		Location             string `query:"location"`
		Status               string `query:"status"`
		MaintenanceDueBefore string `query:"maintenance_due_before" doc:"YYYY-MM-DD"`
	}) (*struct {
		Body []domain.Drone `json:"body"`
	}, error) {
		f := engine.DroneFilter{
			Capability: input.Capability,
			Location:   input.Location,
			Status:     input.Status,
		}
		if input.MaintenanceDueBefore != "" {
			due, err := domain.ParseDate(input.MaintenanceDueBefore)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid maintenance_due_before", map[string]any{"maintenance_due_before": input.MaintenanceDueBefore})
			}
			f.MaintenanceDueBefore = due
		}
		drones, err := c.Drones(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Drone `json:"body"`
		}{Body: drones}, nil
	})
}

func registerMissions(api huma.API, c *app.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List missions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Mission `json:"body"`
	}, error) {
		missions, err := c.Missions(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Mission `json:"body"`
		}{Body: missions}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rank-candidates",
		Method:      http.MethodGet,
		Path:        "/missions/{mission_id}/candidates/{kind}",
		Summary:     "Rank pilots or drones for a mission",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MissionID string `path:"mission_id"`
		Kind      string `path:"kind" enum:"pilot,drone"`
	}) (*struct {
		Body engine.Ranking `json:"body"`
	}, error) {
		ranking, err := c.Rank(ctx, input.MissionID, domain.ResourceKind(input.Kind))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Ranking `json:"body"`
		}{Body: ranking}, nil
	})

	advise := func(id, path, summary string, fn func(context.Context, string) (app.Ticket, error)) {
		huma.Register(api, huma.Operation{
			OperationID: id,
			Method:      http.MethodPost,
			Path:        path,
			Summary:     summary,
			Errors:      []int{http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			MissionID string `path:"mission_id"`
		}) (*struct {
			Body app.Ticket `json:"body"`
		}, error) {
			t, err := fn(ctx, input.MissionID)
			if err != nil {
				return nil, handleError(err)
			}
			observeProposal(t)
			return &struct {
				Body app.Ticket `json:"body"`
			}{Body: t}, nil
		})
	}
	advise("suggest-assignment", "/missions/{mission_id}/suggest", "Suggest a pilot and drone for a mission", c.Suggest)
	advise("urgent-reassignment", "/missions/{mission_id}/urgent", "Propose a least-impact urgent reassignment", c.Urgent)

	huma.Register(api, huma.Operation{
		OperationID: "assign-direct",
		Method:      http.MethodPost,
		Path:        "/missions/{mission_id}/assign",
		Summary:     "Confirm an assignment named by ids",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		MissionID string        `path:"mission_id"`
		Body      AssignRequest `json:"body"`
	}) (*struct {
		Body app.Outcome `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := c.ConfirmIDs(ctx, input.MissionID, input.Body.PilotID, input.Body.DroneID, actorID)
		observeWriteBack(err)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body app.Outcome `json:"body"`
		}{Body: out}, nil
	})
}

func registerConflicts(api huma.API, c *app.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID: "detect-conflicts",
		Method:      http.MethodGet,
		Path:        "/conflicts",
		Summary:     "Detect conflicts in the current assignment state",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.ConflictReport `json:"body"`
	}, error) {
		report, err := c.Conflicts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		observeConflicts(report)
		return &struct {
			Body domain.ConflictReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerProposals(api huma.API, c *app.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID: "confirm-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/confirm",
		Summary:     "Confirm a proposal and write it back",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		Body TokenRequest `json:"body"`
	}) (*struct {
		Body app.Outcome `json:"body"`
	}, error) {
		if input.Body.Token == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "token is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := c.Confirm(ctx, input.Body.Token, actorID)
		observeWriteBack(err)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body app.Outcome `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "discard-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/discard",
		Summary:     "Discard a proposal",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body TokenRequest `json:"body"`
	}) (*struct {
		Body app.Outcome `json:"body"`
	}, error) {
		if input.Body.Token == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "token is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := c.Discard(ctx, input.Body.Token, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body app.Outcome `json:"body"`
		}{Body: out}, nil
	})
}

func registerStatus(api huma.API, c *app.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID: "set-pilot-status",
		Method:      http.MethodPut,
		Path:        "/pilots/{pilot_id}/status",
		Summary:     "Set a pilot's status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		PilotID string        `path:"pilot_id"`
		Body    StatusRequest `json:"body"`
	}) (*struct {
		Body domain.Pilot `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := c.SetPilotStatus(ctx, input.PilotID, input.Body.Status, actorID)
		observeStatusUpdate(domain.KindPilot, err)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Pilot `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-drone-status",
		Method:      http.MethodPut,
		Path:        "/drones/{drone_id}/status",
		Summary:     "Set a drone's status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		DroneID string        `path:"drone_id"`
		Body    StatusRequest `json:"body"`
	}) (*struct {
		Body domain.Drone `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := c.SetDroneStatus(ctx, input.DroneID, input.Body.Status, actorID)
		observeStatusUpdate(domain.KindDrone, err)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Drone `json:"body"`
		}{Body: d}, nil
	})
}

func registerChat(api huma.API, s *sessions) {
	huma.Register(api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/chat",
		Summary:     "Send a free-text request to the coordinator shell",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ChatRequest `json:"body"`
	}) (*struct {
		Body ChatResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reply := s.handle(ctx, actorID, input.Body.SessionID, input.Body.Message)
		return &struct {
			Body ChatResponse `json:"body"`
		}{Body: ChatResponse{
			SessionID: input.Body.SessionID,
			Intent:    string(reply.Intent),
			Text:      reply.Text,
			Data:      reply.Data,
		}}, nil
	})
}

func registerEvents(api huma.API, j repo.Journal) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"proposal,mission,pilot,drone,records"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := j.LatestEvents(ctx, limit+1, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
