// Package server exposes the schema, graph, change and validation operations
// over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"path"
	"reflect"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/ganad831/doc-helper-sub004/internal/app"
	"github.com/ganad831/doc-helper-sub004/internal/domain"
	"github.com/ganad831/doc-helper-sub004/internal/engine"
	"github.com/ganad831/doc-helper-sub004/internal/events"
	"github.com/ganad831/doc-helper-sub004/internal/repo"
	"github.com/ganad831/doc-helper-sub004/internal/schemafile"
)

// Config for the HTTP API handler.
type Config struct {
	Repo     repo.Repo
	Limits   engine.Limits
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"chain_depth_exceeded"`
	Message string         `json:"message" example:"control chain exceeded depth limit"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every endpoint returns on failure.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the document-helper API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Limits == (engine.Limits{}) {
		cfg.Limits = engine.DefaultLimits()
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

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Doc Helper API", "0.1.0")
	hcfg.Components.Schemas = huma.NewMapRegistry("#/components/schemas/", dedupeSchemaNamer())
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerProjects(group, cfg)
	registerSchema(group, cfg)
	registerGraph(group, cfg)
	registerChanges(group, cfg)
	registerValidation(group, cfg)
	registerValues(group, cfg)
	registerEvents(group, cfg)

	return router, nil
}

// dedupeSchemaNamer wraps huma.DefaultSchemaNamer, qualifying a schema name
// with its Go package name when two distinct types would otherwise share one
// (e.g. schemafile.Issue and depgraph.Issue both defaulting to "Issue", which
// makes huma's registry panic during route registration).
func dedupeSchemaNamer() func(t reflect.Type, hint string) string {
	assigned := map[reflect.Type]string{}
	used := map[string]reflect.Type{}
	return func(t reflect.Type, hint string) string {
		if name, ok := assigned[t]; ok {
			return name
		}
		name := huma.DefaultSchemaNamer(t, hint)
		if prev, ok := used[name]; ok && prev != t {
			elem := t
			for elem.Kind() == reflect.Ptr {
				elem = elem.Elem()
			}
			if pkg := path.Base(elem.PkgPath()); pkg != "" && pkg != "." {
				name = strings.ToUpper(pkg[:1]) + pkg[1:] + name
			}
		}
		assigned[t] = name
		used[name] = t
		return name
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body:   apiErrorBody{Code: code, Message: message, Details: details},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var cde *engine.ChainDepthError
	if errors.As(err, &cde) {
		return newAPIError(http.StatusUnprocessableEntity, "chain_depth_exceeded", err.Error(),
			map[string]any{"limit": cde.Limit, "origin": cde.Origin})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "no schema"), strings.Contains(lowered, "no project"):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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

func registerProjects(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		if err := app.CreateProject(ctx, cfg.Repo, input.Body.ID, desc, actorID); err != nil {
			return nil, handleError(err)
		}
		p, err := cfg.Repo.GetProject(ctx, input.Body.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := cfg.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := cfg.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerSchema(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-schema",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/schema",
		Summary:     "Get latest schema",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body SchemaResponse `json:"body"`
	}, error) {
		doc, version, err := cfg.Repo.LatestSchema(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		schema, err := schemafile.FromYAML(doc)
		if err != nil {
			return nil, handleError(err)
		}
		schema.ProjectID = input.ProjectID
		schema.Version = version
		return &struct {
			Body SchemaResponse `json:"body"`
		}{Body: SchemaResponse{Version: version, Schema: schema}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "import-schema",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/schema",
		Summary:       "Import schema version",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      ImportSchemaRequest `json:"body"`
	}) (*struct {
		Body ImportSchemaResponse `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.DocYAML) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "doc_yaml is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		schema, err := schemafile.FromYAML([]byte(input.Body.DocYAML))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		issues := schemafile.Check(schema, cfg.Limits)
		if schemafile.HasErrors(issues) && !input.Body.Force {
			return nil, newAPIError(http.StatusUnprocessableEntity, "schema_check_failed",
				"schema has errors; fix them or pass force", map[string]any{"issues": issues})
		}
		if _, err := cfg.Repo.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		version, err := cfg.Repo.ImportSchema(ctx, input.ProjectID, []byte(input.Body.DocYAML))
		if err != nil {
			return nil, handleError(err)
		}
		if err := logSchemaImport(ctx, cfg.Repo, input.ProjectID, actorID, version); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ImportSchemaResponse `json:"body"`
		}{Body: ImportSchemaResponse{Version: version, Issues: issues}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "check-schema",
		Method:      http.MethodPost,
		Path:        "/schema/check",
		Summary:     "Check a schema document without importing it",
	}, func(ctx context.Context, input *struct {
		Body CheckSchemaRequest `json:"body"`
	}) (*struct {
		Body CheckSchemaResponse `json:"body"`
	}, error) {
		schema, err := schemafile.FromYAML([]byte(input.Body.DocYAML))
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		issues := schemafile.Check(schema, cfg.Limits)
		if issues == nil {
			issues = []schemafile.Issue{}
		}
		return &struct {
			Body CheckSchemaResponse `json:"body"`
		}{Body: CheckSchemaResponse{Issues: issues, OK: !schemafile.HasErrors(issues)}}, nil
	})
}

func logSchemaImport(ctx context.Context, r repo.Repo, projectID, actorID string, version int) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	w := events.Writer{DB: r.DB}
	if err := w.Append(ctx, tx, events.TypeSchemaImported, projectID, "", "", actorID,
		events.EventPayload{"version": version}); err != nil {
		return err
	}
	return tx.Commit()
}

func registerGraph(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "get-graph",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/graph",
		Summary:     "Inspect the dependency graph",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body GraphResponse `json:"body"`
	}, error) {
		eng, schema, err := app.LoadEngine(ctx, cfg.Repo, input.ProjectID, cfg.Limits)
		if err != nil {
			return nil, handleError(err)
		}
		g := eng.Graph
		return &struct {
			Body GraphResponse `json:"body"`
		}{Body: GraphResponse{
			SchemaVersion: schema.Version,
			Nodes:         g.Nodes(),
			Edges:         g.Edges(),
			Issues:        g.Issues(),
			Order:         g.TopoOrder(g.Nodes()),
		}}, nil
	})
}

func registerChanges(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "apply-change",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/entities/{entity_id}/changes",
		Summary:     "Apply a field change and propagate its consequences",
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		EntityID  string             `path:"entity_id"`
		Body      ApplyChangeRequest `json:"body"`
	}) (*struct {
		Body ApplyChangeResponse `json:"body"`
	}, error) {
		if input.Body.FieldID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "field_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		eng, schema, err := app.LoadEngine(ctx, cfg.Repo, input.ProjectID, cfg.Limits)
		if err != nil {
			return nil, handleError(err)
		}
		if _, ok := schema.Entity(input.EntityID); !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", "unknown entity "+input.EntityID, nil)
		}
		snap, err := cfg.Repo.Snapshot(ctx, input.ProjectID, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		result, err := eng.ApplyChange(snap, input.Body.FieldID, input.Body.Value)
		if err != nil {
			return nil, handleError(err)
		}
		persisted := false
		if !input.Body.DryRun {
			if _, err := app.PersistChange(ctx, cfg.Repo, input.ProjectID, input.EntityID, actorID, input.Body.FieldID, snap, result); err != nil {
				return nil, handleError(err)
			}
			persisted = true
		}
		return &struct {
			Body ApplyChangeResponse `json:"body"`
		}{Body: ApplyChangeResponse{
			SchemaVersion: schema.Version,
			Snapshot:      result.Snapshot,
			Effects:       result.Effects,
			FieldErrors:   result.FieldErrors,
			ChainDepth:    result.ChainDepth,
			Persisted:     persisted,
		}}, nil
	})
}

func registerValidation(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "validate-entity",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/entities/{entity_id}/validate",
		Summary:     "Validate an entity's current values",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		EntityID  string `path:"entity_id"`
	}) (*struct {
		Body domain.EvaluationResult `json:"body"`
	}, error) {
		eng, _, err := app.LoadEngine(ctx, cfg.Repo, input.ProjectID, cfg.Limits)
		if err != nil {
			return nil, handleError(err)
		}
		snap, err := cfg.Repo.Snapshot(ctx, input.ProjectID, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.EvaluationResult `json:"body"`
		}{Body: eng.Validate(input.EntityID, snap)}, nil
	})
}

func registerValues(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-values",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/entities/{entity_id}/values",
		Summary:     "List stored field values",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		EntityID  string `path:"entity_id"`
	}) (*struct {
		Body []ValueResponse `json:"body"`
	}, error) {
		items, err := cfg.Repo.ListValues(ctx, input.ProjectID, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ValueResponse, 0, len(items))
		for _, sv := range items {
			out = append(out, ValueResponse{
				EntityID: sv.EntityID, FieldID: sv.FieldID,
				Value: sv.Value, UpdatedAt: sv.UpdatedAt,
			})
		}
		return &struct {
			Body []ValueResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit"`
		Cursor    int64  `query:"cursor"`
		Type      string `query:"type"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := cfg.Repo.LatestEvents(ctx, input.Limit, input.Cursor, input.ProjectID, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}
