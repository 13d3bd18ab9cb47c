package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ganad831/doc-helper-sub004/internal/domain"
	"github.com/ganad831/doc-helper-sub004/internal/engine"
	"github.com/ganad831/doc-helper-sub004/internal/events"
	"github.com/ganad831/doc-helper-sub004/internal/repo"
	"github.com/ganad831/doc-helper-sub004/internal/rules"
	"github.com/ganad831/doc-helper-sub004/internal/schemafile"
)

// ResolveProject picks the active project: the override if given, else the
// single project in the workspace. A named project that does not exist yet is
// created on the fly.
func ResolveProject(ctx context.Context, projectOverride, actorID string, r repo.Repo) (string, error) {
	projectID := projectOverride
	if projectID == "" {
		p, err := r.SingleProject(ctx)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", fmt.Errorf("no project in workspace; create one with `dh project create`")
			}
			return "", err
		}
		projectID = p.ID
	}
	if _, err := r.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", err
		}
		if err := CreateProject(ctx, r, projectID, "", actorID); err != nil {
			return "", err
		}
	}
	return projectID, nil
}

// CreateProject inserts a project row and logs the creation event.
func CreateProject(ctx context.Context, r repo.Repo, projectID, description, actorID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if actorID == "" {
		actorID = "local-user"
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,description,created_at) VALUES (?,?,?)`,
		projectID, description, now); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	w := events.Writer{DB: r.DB}
	if err := w.Append(ctx, tx, events.TypeProjectCreated, projectID, "", "", actorID, nil); err != nil {
		return fmt.Errorf("log project creation: %w", err)
	}
	return tx.Commit()
}

// LoadEngine parses the project's latest stored schema and builds an engine
// over it. The stored version number is stamped onto the schema so results
// can be traced back to the version they were computed against.
func LoadEngine(ctx context.Context, r repo.Repo, projectID string, limits engine.Limits) (engine.Engine, *domain.Schema, error) {
	doc, version, err := r.LatestSchema(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return engine.Engine{}, nil, fmt.Errorf("project %q has no schema; import one with `dh schema import`", projectID)
		}
		return engine.Engine{}, nil, err
	}
	schema, err := schemafile.FromYAML(doc)
	if err != nil {
		return engine.Engine{}, nil, fmt.Errorf("stored schema v%d: %w", version, err)
	}
	schema.ProjectID = projectID
	schema.Version = version
	eng, err := engine.New(schema, limits)
	if err != nil {
		return engine.Engine{}, nil, fmt.Errorf("build engine for schema v%d: %w", version, err)
	}
	return eng, schema, nil
}

// PersistChange stores every field whose value differs from the pre-change
// snapshot and appends the matching events in one transaction. All rows of the
// batch share a change id so the log can be grouped per edit.
func PersistChange(ctx context.Context, r repo.Repo, projectID, entityID, actorID, editedField string, before domain.Snapshot, result engine.ChangeResult) (string, error) {
	changeID := uuid.NewString()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	w := events.Writer{DB: r.DB}
	// Sorted so the event rows of one change always get ids in field order.
	fields := make([]string, 0, len(result.Snapshot))
	for field := range result.Snapshot {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		value := result.Snapshot[field]
		prev, had := before[field]
		if had && rules.Equal(prev, value) {
			continue
		}
		if err := r.UpsertValue(ctx, tx, projectID, entityID, field, value); err != nil {
			return "", err
		}
		evtType := events.TypeFieldChanged
		if field != editedField {
			evtType = events.TypeEffectApplied
		}
		if err := w.Append(ctx, tx, evtType, projectID, entityID, field, actorID,
			events.EventPayload{"value": value, "change_id": changeID}); err != nil {
			return "", err
		}
	}
	return changeID, tx.Commit()
}
