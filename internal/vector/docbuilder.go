package vector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/atlasmeta/reindexer/internal/catalog"
)

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// stripHTML removes markup from rich-text descriptions before embedding.
func stripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(strings.Join(strings.Fields(htmlTagPattern.ReplaceAllString(s, " ")), " "))
}

// emptyMarker stands in for absent fields so two entities that differ only
// in which fields are unset still produce distinct texts.
const emptyMarker = "[]"

func orEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return emptyMarker
	}
	return s
}

func joinOrEmpty(values []string) string {
	if len(values) == 0 {
		return emptyMarker
	}
	return strings.Join(values, ", ")
}

func refNames(refs []catalog.EntityRef) []string {
	var names []string
	for _, r := range refs {
		name := r.DisplayName
		if name == "" {
			name = r.Name
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

func customPropsText(props map[string]string) string {
	if len(props) == 0 {
		return emptyMarker
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + props[k]
	}
	return strings.Join(parts, ", ")
}

// metaText renders the compact metadata preamble repeated in front of
// every chunk. It ends with " | " so chunk text can be appended directly.
func metaText(e *catalog.Entity) string {
	var b strings.Builder
	b.WriteString("name: " + orEmpty(e.Name))
	b.WriteString("; displayName: " + orEmpty(e.DisplayName))
	b.WriteString("; entityType: " + orEmpty(e.Type))
	b.WriteString("; serviceType: " + orEmpty(e.ServiceType))
	b.WriteString("; fullyQualifiedName: " + orEmpty(e.FullyQualifiedName))
	b.WriteString("; tier: " + orEmpty(e.Tier))
	b.WriteString("; certification: " + orEmpty(e.Certification))
	b.WriteString("; domains: " + joinOrEmpty(refNames(e.Domains)))
	b.WriteString("; tags: " + joinOrEmpty(e.Tags))
	b.WriteString("; Associated glossary terms: " + joinOrEmpty(e.GlossaryTerms))
	b.WriteString("; owners: " + joinOrEmpty(refNames(e.Owners)))
	b.WriteString("; customProperties: " + customPropsText(e.CustomProperties))
	b.WriteString(" | ")
	return b.String()
}

// bodyText renders the long-form text that gets chunked: the description
// plus, for tables, the column names and column descriptions.
func bodyText(e *catalog.Entity) string {
	var b strings.Builder
	b.WriteString("description: " + stripHTML(e.Description))
	if len(e.Columns) > 0 {
		cols := make([]string, len(e.Columns))
		for i, c := range e.Columns {
			if desc := stripHTML(c.Description); desc != "" {
				cols[i] = c.Name + " (" + desc + ")"
			} else {
				cols[i] = c.Name
			}
		}
		b.WriteString("; columns: " + strings.Join(cols, ", "))
	}
	return b.String()
}

// EntityFingerprint digests the full embeddable content of the entity.
// Any change to metadata or body yields a new fingerprint.
func EntityFingerprint(e *catalog.Entity) string {
	return Fingerprint(metaText(e) + "|" + bodyText(e))
}

// BuildDocs expands one entity into its chunk documents, all stamped with
// the shared entity fingerprint. Embeddings are left empty for the
// embedding stage to fill in.
func BuildDocs(e *catalog.Entity) []Doc {
	meta := metaText(e)
	chunks := ChunkText(bodyText(e))
	fingerprint := Fingerprint(meta + "|" + bodyText(e))
	parentID := e.ID.String()

	var tier *nameField
	if e.Tier != "" {
		tier = &nameField{TagFQN: e.Tier}
	}
	tags := make([]nameField, 0, len(e.Tags))
	for _, t := range e.Tags {
		tags = append(tags, nameField{TagFQN: t})
	}
	owners := make([]nameField, 0, len(e.Owners))
	for _, o := range e.Owners {
		owners = append(owners, nameField{Name: o.Name})
	}
	domains := make([]nameField, 0, len(e.Domains))
	for _, d := range e.Domains {
		domains = append(domains, nameField{Name: d.Name})
	}

	docs := make([]Doc, len(chunks))
	for i, chunk := range chunks {
		text := meta
		if i > 0 {
			text += "description (continued): "
		}
		text += chunk + fmt.Sprintf(" | chunk %d/%d", i+1, len(chunks))

		docs[i] = Doc{
			ID:          fmt.Sprintf("%s-%d", parentID, i),
			ParentID:    parentID,
			EntityType:  e.Type,
			FQN:         e.FullyQualifiedName,
			Name:        e.Name,
			DisplayName: e.DisplayName,
			ServiceType: e.ServiceType,
			Deleted:     e.Deleted,
			Fingerprint: fingerprint,
			ChunkIndex:  i,
			ChunkCount:  len(chunks),
			TextToEmbed: text,
			Tags:        tags,
			Tier:        tier,
			Owners:      owners,
			Domains:     domains,
		}
	}
	return docs
}
