package domain

// Project is a workspace-level container for schemas and values.
type Project struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// SchemaRecord describes one stored schema version without its body.
type SchemaRecord struct {
	ProjectID string `json:"project_id"`
	Version   int    `json:"version"`
	CreatedAt string `json:"created_at"`
}

// StoredValue is one persisted field value. Value is JSON-decoded on read.
type StoredValue struct {
	EntityID  string `json:"entity_id"`
	FieldID   string `json:"field_id"`
	Value     any    `json:"value"`
	UpdatedAt string `json:"updated_at"`
}

// Event is one row of the append-only change log.
type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts"`
	Type      string `json:"type"`
	ProjectID string `json:"project_id"`
	EntityID  string `json:"entity_id,omitempty"`
	FieldID   string `json:"field_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload,omitempty"`
}
