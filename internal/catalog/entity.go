// Package catalog provides the entity model and the paged entity-iteration
// API the indexing pipeline reads from.
package catalog

import (
	"context"

	"github.com/google/uuid"
)

// EntityRef is a lightweight reference to another catalog entity.
type EntityRef struct {
	ID                 string `json:"id,omitempty"`
	Type               string `json:"type,omitempty"`
	Name               string `json:"name,omitempty"`
	DisplayName        string `json:"displayName,omitempty"`
	FullyQualifiedName string `json:"fullyQualifiedName,omitempty"`
}

// Column describes one column of a table entity.
type Column struct {
	Name        string `json:"name"`
	DataType    string `json:"dataType,omitempty"`
	Description string `json:"description,omitempty"`
}

// Entity is the denormalized catalog record the indexing pipeline consumes.
type Entity struct {
	ID                 uuid.UUID         `json:"id"`
	Type               string            `json:"entityType"`
	Name               string            `json:"name"`
	DisplayName        string            `json:"displayName,omitempty"`
	Description        string            `json:"description,omitempty"`
	FullyQualifiedName string            `json:"fullyQualifiedName"`
	ServiceType        string            `json:"serviceType,omitempty"`
	Tier               string            `json:"tier,omitempty"`
	Certification      string            `json:"certification,omitempty"`
	Tags               []string          `json:"tags,omitempty"`
	GlossaryTerms      []string          `json:"glossaryTerms,omitempty"`
	Owners             []EntityRef       `json:"owners,omitempty"`
	Domains            []EntityRef       `json:"domains,omitempty"`
	Columns            []Column          `json:"columns,omitempty"`
	CustomProperties   map[string]string `json:"customProperties,omitempty"`
	Deleted            bool              `json:"deleted"`
	UpdatedAt          int64             `json:"updatedAt,omitempty"`
}

// ColumnNames returns the names of all columns, in declaration order.
func (e *Entity) ColumnNames() []string {
	if len(e.Columns) == 0 {
		return nil
	}
	names := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		names[i] = c.Name
	}
	return names
}

// Reader is the entity-iteration API: total counts and offset-paged reads
// per entity type. Implemented by the sqlite-backed Store; the pipeline
// depends only on this interface.
type Reader interface {
	// CountByType returns the total number of live records for the type.
	CountByType(ctx context.Context, entityType string) (int64, error)

	// List returns up to limit entities of the given type starting at
	// offset, ordered deterministically so identical (offset, limit)
	// reads yield identical pages within a run.
	List(ctx context.Context, entityType string, offset, limit int64) ([]Entity, error)
}
