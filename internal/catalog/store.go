package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Store reads catalog entities from a sqlite database. Entities are kept as
// JSON blobs keyed by (type, fqn) so a single schema serves every entity
// type the pipeline indexes.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle and ensures the schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS catalog_entity (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			fqn TEXT NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			json TEXT NOT NULL,
			updated_at INTEGER NOT NULL DEFAULT 0,
			UNIQUE (entity_type, fqn)
		);
		CREATE INDEX IF NOT EXISTS idx_catalog_entity_type
			ON catalog_entity (entity_type, fqn);
	`)
	if err != nil {
		return fmt.Errorf("migrate catalog schema: %w", err)
	}
	return nil
}

// Upsert inserts or replaces an entity record.
func (s *Store) Upsert(ctx context.Context, e *Entity) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	blob, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entity %s: %w", e.FullyQualifiedName, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO catalog_entity (id, entity_type, fqn, deleted, json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, fqn) DO UPDATE SET
			deleted = excluded.deleted,
			json = excluded.json,
			updated_at = excluded.updated_at
	`, e.ID.String(), e.Type, e.FullyQualifiedName, boolToInt(e.Deleted), string(blob), e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", e.FullyQualifiedName, err)
	}
	return nil
}

// UpsertBatch writes a batch of entities in one transaction.
func (s *Store) UpsertBatch(ctx context.Context, entities []Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO catalog_entity (id, entity_type, fqn, deleted, json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, fqn) DO UPDATE SET
			deleted = excluded.deleted,
			json = excluded.json,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i := range entities {
		e := &entities[i]
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		blob, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entity %s: %w", e.FullyQualifiedName, err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID.String(), e.Type, e.FullyQualifiedName,
			boolToInt(e.Deleted), string(blob), e.UpdatedAt); err != nil {
			return fmt.Errorf("upsert entity %s: %w", e.FullyQualifiedName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert batch: %w", err)
	}
	return nil
}

// CountByType returns the number of records of the given type, deleted
// records included so reindex runs carry tombstones into the index.
func (s *Store) CountByType(ctx context.Context, entityType string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM catalog_entity WHERE entity_type = ?`, entityType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s entities: %w", entityType, err)
	}
	return n, nil
}

// List returns a page of entities of the given type ordered by fqn.
func (s *Store) List(ctx context.Context, entityType string, offset, limit int64) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT json FROM catalog_entity
		WHERE entity_type = ?
		ORDER BY fqn
		LIMIT ? OFFSET ?
	`, entityType, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list %s entities: %w", entityType, err)
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}
		var e Entity
		if err := json.Unmarshal([]byte(blob), &e); err != nil {
			return nil, fmt.Errorf("decode entity row: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity rows: %w", err)
	}
	return out, nil
}

// Get returns one entity by type and fully qualified name.
func (s *Store) Get(ctx context.Context, entityType, fqn string) (*Entity, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT json FROM catalog_entity WHERE entity_type = ? AND fqn = ?`,
		entityType, fqn).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s/%s: %w", entityType, fqn, err)
	}
	var e Entity
	if err := json.Unmarshal([]byte(blob), &e); err != nil {
		return nil, fmt.Errorf("decode entity %s/%s: %w", entityType, fqn, err)
	}
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
