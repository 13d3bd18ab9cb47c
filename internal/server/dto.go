package server

import (
	"github.com/ganad831/doc-helper-sub004/internal/depgraph"
	"github.com/ganad831/doc-helper-sub004/internal/domain"
	"github.com/ganad831/doc-helper-sub004/internal/schemafile"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Description *string `json:"description,omitempty"`
}

type ImportSchemaRequest struct {
	// DocYAML is the schema document in the authoring format.
	DocYAML string `json:"doc_yaml"`
	// Force imports even when Check reports errors.
	Force bool `json:"force,omitempty"`
}

type CheckSchemaRequest struct {
	DocYAML string `json:"doc_yaml"`
}

type ApplyChangeRequest struct {
	FieldID string `json:"field_id"`
	Value   any    `json:"value"`
	// DryRun evaluates without persisting the resulting snapshot.
	DryRun bool `json:"dry_run,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{ID: p.ID, Description: p.Description, CreatedAt: p.CreatedAt}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

type SchemaResponse struct {
	Version int            `json:"version"`
	Schema  *domain.Schema `json:"schema"`
}

type ImportSchemaResponse struct {
	Version int                `json:"version"`
	Issues  []schemafile.Issue `json:"issues,omitempty"`
}

type CheckSchemaResponse struct {
	Issues []schemafile.Issue `json:"issues"`
	OK     bool               `json:"ok"`
}

type GraphResponse struct {
	SchemaVersion int              `json:"schema_version"`
	Nodes         []string         `json:"nodes"`
	Edges         []depgraph.Edge  `json:"edges"`
	Issues        []depgraph.Issue `json:"issues,omitempty"`
	Order         []string         `json:"order"`
}

type ApplyChangeResponse struct {
	SchemaVersion int                 `json:"schema_version"`
	Snapshot      domain.Snapshot     `json:"snapshot"`
	Effects       []domain.Effect     `json:"effects,omitempty"`
	FieldErrors   []domain.FieldError `json:"field_errors,omitempty"`
	ChainDepth    int                 `json:"chain_depth"`
	Persisted     bool                `json:"persisted"`
}

type ValueResponse struct {
	EntityID  string `json:"entity_id"`
	FieldID   string `json:"field_id"`
	Value     any    `json:"value"`
	UpdatedAt string `json:"updated_at"`
}

type EventResponse struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts"`
	Type     string `json:"type"`
	EntityID string `json:"entity_id,omitempty"`
	FieldID  string `json:"field_id,omitempty"`
	ActorID  string `json:"actor_id"`
	Payload  string `json:"payload,omitempty"`
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, EventResponse{
			ID: e.ID, TS: e.TS, Type: e.Type,
			EntityID: e.EntityID, FieldID: e.FieldID,
			ActorID: e.ActorID, Payload: e.Payload,
		})
	}
	return out
}
