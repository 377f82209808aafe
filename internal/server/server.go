// Package server exposes the submission engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"reflect"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"submitline/internal/domain"
	"submitline/internal/engine"
	"submitline/internal/engine/auth"
	"submitline/internal/events"
	"submitline/internal/legacy"
	"submitline/internal/repo"
	"submitline/internal/store"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	Repo     repo.Repo
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"validation_failed"`
	Message string         `json:"message" example:"Invalid SetTitle: Must not contain trailing periods except ellipses."`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

var errBadRequest = errors.New("bad request")

// New returns an HTTP handler exposing the submission API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
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
			// Schema violations are malformed requests, not invalid events.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, e.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Repo))
	hcfg := huma.DefaultConfig("Submitline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerEventTypes(group)
	registerMe(group)
	registerSubmissions(group, cfg.Engine)
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var re *legacy.ReconciliationError
	if errors.As(err, &re) {
		return newAPIError(http.StatusConflict, "reconciliation_failed", err.Error(), map[string]any{"aggregate_id": re.AggregateID, "row_id": re.RowID})
	}
	var save *store.SaveError
	if errors.As(err, &save) {
		return newAPIError(http.StatusInternalServerError, "save_failed", "save failed", map[string]any{"op": save.Op})
	}
	var ie *events.InvalidEvent
	if errors.As(err, &ie) {
		details := map[string]any{"reason": ie.Message}
		if ie.Event != nil && ie.Event.Payload != nil {
			details["event_type"] = string(ie.Event.Type())
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), details)
	}
	switch {
	case errors.Is(err, engine.ErrEventCollision):
		return newAPIError(http.StatusConflict, "event_collision", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrNothingToDo), errors.Is(err, engine.ErrUnorderedBatch):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, events.ErrUnknownType):
		return newAPIError(http.StatusBadRequest, "unknown_event_type", err.Error(), nil)
	case errors.Is(err, errBadRequest):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.Schemas != nil {
		oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
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

func operations(item *huma.PathItem) []*huma.Operation {
	var out []*huma.Operation
	for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace} {
		if op != nil {
			out = append(out, op)
		}
	}
	return out
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join(basePath, "health"):      true,
		path.Join(basePath, "event-types"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Submitline API Docs</title>
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

func registerEventTypes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-event-types",
		Method:      http.MethodGet,
		Path:        "/event-types",
		Summary:     "List event types",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []EventTypeResponse `json:"body"`
	}, error) {
		return &struct {
			Body []EventTypeResponse `json:"body"`
		}{Body: eventTypes()}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current agent",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		p, _ := principalFromContext(ctx)
		if p.Agent.IsZero() {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: MeResponse{Agent: p.Agent, Source: p.Source, Scopes: auth.Scopes(p.Agent)}}, nil
	})
}

func registerSubmissions(api huma.API, e *engine.Engine) {
	writeErrors := []int{
		http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusUnprocessableEntity,
		http.StatusInternalServerError,
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-submission",
		Method:        http.MethodPost,
		Path:          "/submissions",
		Summary:       "Create a submission",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body EventsRequest `json:"body"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		agent, authErr := agentFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(input.Body.Events) == 0 || input.Body.Events[0].EventType != string(events.TypeCreateSubmission) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "first event must be CreateSubmission", nil)
		}
		ds, err := drafts(agent, 0, input.Body.Events)
		if err != nil {
			return nil, handleError(err)
		}
		for _, d := range ds {
			if err := auth.Authorize(agent, d.Type(), nil); err != nil {
				return nil, handleError(err)
			}
		}
		s, history, err := e.Save(ctx, 0, ds...)
		if err != nil {
			return nil, handleError(err)
		}
		resp, err := submissionResponse(s, history)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "append-events",
		Method:      http.MethodPost,
		Path:        "/submissions/{id}/events",
		Summary:     "Append events to a submission",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64         `path:"id"`
		Body EventsRequest `json:"body"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		agent, authErr := agentFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		current, err := e.LoadFast(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		ds, err := drafts(agent, input.ID, input.Body.Events)
		if err != nil {
			return nil, handleError(err)
		}
		for _, d := range ds {
			if err := auth.Authorize(agent, d.Type(), current); err != nil {
				return nil, handleError(err)
			}
		}
		s, history, err := e.Save(ctx, input.ID, ds...)
		if err != nil {
			return nil, handleError(err)
		}
		resp, err := submissionResponse(s, history)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-submission",
		Method:      http.MethodGet,
		Path:        "/submissions/{id}",
		Summary:     "Get a submission",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body SubmissionResponse `json:"body"`
	}, error) {
		s, _, err := load(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SubmissionResponse `json:"body"`
		}{Body: SubmissionResponse{Submission: s}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-submission-events",
		Method:      http.MethodGet,
		Path:        "/submissions/{id}/events",
		Summary:     "List the events of a submission",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		_, history, err := load(ctx, e, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := mapEvents(history)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-submissions",
		Method:      http.MethodGet,
		Path:        "/submissions",
		Summary:     "List submissions by owner",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Owner     string `query:"owner" doc:"Owner native id. Defaults to the caller."`
		OwnerType string `query:"owner_type" enum:"user,client,system" default:"user"`
	}) (*struct {
		Body SubmissionListResponse `json:"body"`
	}, error) {
		agent, authErr := agentFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owner := agent
		if input.Owner != "" {
			owner = domain.Agent{Type: domain.AgentType(input.OwnerType), NativeID: input.Owner}
		}
		if agent.Type == domain.AgentUser && !owner.Equal(agent) {
			return nil, handleError(auth.ForbiddenError{Permission: auth.ScopeModerate, Agent: agent})
		}
		items, err := e.List(ctx, owner)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []*domain.Submission{}
		}
		return &struct {
			Body SubmissionListResponse `json:"body"`
		}{Body: SubmissionListResponse{Items: items}}, nil
	})
}

// load returns the reconciled submission if the caller may read it.
func load(ctx context.Context, e *engine.Engine, id int64) (*domain.Submission, []*events.Event, error) {
	agent, authErr := agentFromContext(ctx)
	if authErr != nil {
		return nil, nil, authErr
	}
	s, history, err := e.Load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := auth.AuthorizeRead(agent, s); err != nil {
		return nil, nil, err
	}
	return s, history, nil
}

func submissionResponse(s *domain.Submission, history []*events.Event) (SubmissionResponse, error) {
	items, err := mapEvents(history)
	if err != nil {
		return SubmissionResponse{}, err
	}
	return SubmissionResponse{Submission: s, Events: items}, nil
}
