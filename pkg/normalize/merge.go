// Package normalize turns the scraping service's loosely typed crawl output into canonical,
// deduplicated records. Everything here is synchronous and free of I/O.
package normalize

import (
	"strings"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
)

// Tagged is a detection that carries a confidence and knows its own defaults
type Tagged[T any] interface {
	ConfidenceScore() float64
	WithDefaults() T
}

// MergeTagged collapses items sharing an identity key into one record.
// Every output record has defaults applied. A later duplicate replaces the kept record only when
// its confidence is strictly greater, so the result does not depend on input order and ties keep
// the first-seen values. Output order follows the first occurrence of each key.
func MergeTagged[T Tagged[T]](items []T, key func(T) string) []T {
	if len(items) == 0 {
		return nil
	}

	index := make(map[string]int, len(items))
	out := make([]T, 0, len(items))

	for _, raw := range items {
		item := raw.WithDefaults()
		k := key(item)
		if i, ok := index[k]; ok {
			if item.ConfidenceScore() > out[i].ConfidenceScore() {
				out[i] = item
			}
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	return out
}

// TechnologyKey identifies a technology by (name, category)
func TechnologyKey(t models.Technology) string {
	return identity(t.Name) + "|" + identity(t.Category)
}

// CMSKey identifies a CMS plugin, theme or component by name
func CMSKey(c models.CMSComponent) string {
	return identity(c.Name)
}

// CMSTypedKey identifies a CMS entry by (name, type), for lists that mix kinds
func CMSTypedKey(c models.CMSComponent) string {
	return identity(c.Name) + "|" + identity(c.Type)
}

// MergeTechnologies deduplicates technologies by (name, category)
func MergeTechnologies(items []models.Technology) []models.Technology {
	return MergeTagged(items, TechnologyKey)
}

// MergeCMSComponents deduplicates CMS plugins, themes or components by name
func MergeCMSComponents(items []models.CMSComponent) []models.CMSComponent {
	return MergeTagged(items, CMSKey)
}

func identity(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
