package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ganad831/doc-helper-sub004/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,description,created_at) VALUES (?,?,?)`,
		p.ID, nullable(p.Description), p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,description,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &desc, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if desc.Valid {
		p.Description = desc.String
	}
	return p, err
}

// SingleProject returns the only project in the workspace, ErrNotFound when
// there are none, and an error telling the caller to disambiguate otherwise.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(description,'') AS description,created_at FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

// ImportSchema stores a new schema version for the project and returns the
// assigned version number. Versions are monotonic per project.
func (r Repo) ImportSchema(ctx context.Context, projectID string, docYAML []byte) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version),0)+1 FROM schemas WHERE project_id=?`, projectID).Scan(&next); err != nil {
		return 0, err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.ExecContext(ctx, `INSERT INTO schemas(project_id,version,doc_yaml,created_at) VALUES (?,?,?,?)`,
		projectID, next, string(docYAML), now); err != nil {
		return 0, err
	}
	return next, tx.Commit()
}

// LatestSchema returns the newest stored schema document and its version.
func (r Repo) LatestSchema(ctx context.Context, projectID string) ([]byte, int, error) {
	var doc string
	var version int
	err := r.DB.QueryRowContext(ctx, `SELECT doc_yaml,version FROM schemas WHERE project_id=? ORDER BY version DESC LIMIT 1`, projectID).
		Scan(&doc, &version)
	if err == sql.ErrNoRows {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	return []byte(doc), version, nil
}

func (r Repo) SchemaVersion(ctx context.Context, projectID string, version int) ([]byte, error) {
	var doc string
	err := r.DB.QueryRowContext(ctx, `SELECT doc_yaml FROM schemas WHERE project_id=? AND version=?`, projectID, version).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(doc), nil
}

func (r Repo) ListSchemaVersions(ctx context.Context, projectID string) ([]domain.SchemaRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,version,created_at FROM schemas WHERE project_id=? ORDER BY version`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SchemaRecord
	for rows.Next() {
		var rec domain.SchemaRecord
		if err := rows.Scan(&rec.ProjectID, &rec.Version, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, nil
}

// UpsertValue persists one field value as JSON inside the caller's transaction.
func (r Repo) UpsertValue(ctx context.Context, tx *sql.Tx, projectID, entityID, fieldID string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for %s: %w", fieldID, err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.ExecContext(ctx, `INSERT INTO field_values(project_id,entity_id,field_id,value_json,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(project_id,entity_id,field_id) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`,
		projectID, entityID, fieldID, string(payload), now)
	return err
}

func (r Repo) DeleteValue(ctx context.Context, tx *sql.Tx, projectID, entityID, fieldID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM field_values WHERE project_id=? AND entity_id=? AND field_id=?`, projectID, entityID, fieldID)
	return err
}

// Snapshot loads all stored values for an entity into an evaluation snapshot.
// Numbers decode as json.Number so the evaluator can widen them.
func (r Repo) Snapshot(ctx context.Context, projectID, entityID string) (domain.Snapshot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT field_id,value_json FROM field_values WHERE project_id=? AND entity_id=?`, projectID, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	snap := domain.Snapshot{}
	for rows.Next() {
		var fieldID, payload string
		if err := rows.Scan(&fieldID, &payload); err != nil {
			return nil, err
		}
		var v any
		dec := json.NewDecoder(strings.NewReader(payload))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("decode value for %s: %w", fieldID, err)
		}
		snap[fieldID] = v
	}
	return snap, rows.Err()
}

func (r Repo) ListValues(ctx context.Context, projectID, entityID string) ([]domain.StoredValue, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT entity_id,field_id,value_json,updated_at FROM field_values WHERE project_id=? AND entity_id=? ORDER BY field_id`, projectID, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StoredValue
	for rows.Next() {
		var sv domain.StoredValue
		var payload string
		if err := rows.Scan(&sv.EntityID, &sv.FieldID, &payload, &sv.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &sv.Value); err != nil {
			return nil, fmt.Errorf("decode value for %s: %w", sv.FieldID, err)
		}
		res = append(res, sv)
	}
	return res, nil
}

// LatestEvents returns events in descending id order, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, projectID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := `SELECT id,ts,type,COALESCE(project_id,''),COALESCE(entity_id,''),COALESCE(field_id,''),actor_id,COALESCE(payload_json,'') FROM events WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityID, &e.FieldID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
