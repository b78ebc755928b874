package vector

import "strings"

// embeddableTypes is the set of entity types the vector pipeline covers.
// Types outside this set are indexed in the regular search index only.
var embeddableTypes = map[string]struct{}{
	"table":              {},
	"glossary":           {},
	"glossaryterm":       {},
	"chart":              {},
	"dashboard":          {},
	"dashboarddatamodel": {},
	"database":           {},
	"databaseschema":     {},
	"dataproduct":        {},
	"pipeline":           {},
	"mlmodel":            {},
	"metric":             {},
	"apiendpoint":        {},
	"apicollection":      {},
	"page":               {},
	"storedprocedure":    {},
	"searchindex":        {},
	"topic":              {},
}

// SupportsEmbedding reports whether the entity type participates in the
// vector pipeline. The check is case-insensitive.
func SupportsEmbedding(entityType string) bool {
	_, ok := embeddableTypes[strings.ToLower(entityType)]
	return ok
}
