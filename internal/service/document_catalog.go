package service

import (
	"github.com/noah-isme/concours-api/internal/models"
	"github.com/noah-isme/concours-api/pkg/config"
)

// DocumentCatalog is the fixed list of document types a candidate is expected to provide.
type DocumentCatalog struct {
	entries []models.CatalogEntry
	byLabel map[string]models.CatalogEntry
}

// NewDocumentCatalog indexes entries by normalised label.
func NewDocumentCatalog(entries []models.CatalogEntry) *DocumentCatalog {
	catalog := &DocumentCatalog{
		entries: make([]models.CatalogEntry, 0, len(entries)),
		byLabel: make(map[string]models.CatalogEntry, len(entries)),
	}
	for _, entry := range entries {
		key := normalizeLabel(entry.Label)
		if key == "" {
			continue
		}
		if _, dup := catalog.byLabel[key]; dup {
			continue
		}
		catalog.entries = append(catalog.entries, entry)
		catalog.byLabel[key] = entry
	}
	return catalog
}

// CatalogFromConfig converts the configured catalog lines.
func CatalogFromConfig(entries []config.CatalogEntry) *DocumentCatalog {
	converted := make([]models.CatalogEntry, 0, len(entries))
	for _, entry := range entries {
		converted = append(converted, models.CatalogEntry{
			Label:    entry.Label,
			Kind:     models.DocumentKind(entry.Kind),
			Required: entry.Required,
		})
	}
	return NewDocumentCatalog(converted)
}

// Entries returns a copy of the catalog.
func (c *DocumentCatalog) Entries() []models.CatalogEntry {
	out := make([]models.CatalogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup finds the catalog entry matching label, if any.
func (c *DocumentCatalog) Lookup(label string) (models.CatalogEntry, bool) {
	entry, ok := c.byLabel[normalizeLabel(label)]
	return entry, ok
}

// Completeness lists required entries with no matching document label.
func (c *DocumentCatalog) Completeness(docs []models.Document) models.CompletenessReport {
	present := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		present[normalizeLabel(doc.Label)] = struct{}{}
	}
	missing := make([]models.CatalogEntry, 0)
	for _, entry := range c.entries {
		if !entry.Required {
			continue
		}
		if _, ok := present[normalizeLabel(entry.Label)]; !ok {
			missing = append(missing, entry)
		}
	}
	return models.CompletenessReport{Missing: missing, AllPresent: len(missing) == 0}
}
