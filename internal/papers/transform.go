package papers

import (
	"strings"
	"time"

	"dermodel/internal/catalog"
)

const maxListedAuthors = 5

// Transform maps a search hit onto a catalog paper for the ingredient.
func Transform(r Result, ingredient string) *catalog.Paper {
	p := &catalog.Paper{
		IngredientName: ingredient,
		Title:          strings.TrimSpace(r.Title),
		Authors:        formatAuthors(r.Authors),
		Journal:        nonEmpty(r.Venue),
		DOI:            externalID(r.ExternalIDs, "DOI"),
		ArxivID:        externalID(r.ExternalIDs, "ArXiv", "arXiv"),
		URL:            nonEmpty(r.URL),
	}

	if p.URL == nil && r.PaperID != "" {
		p.URL = nonEmpty("https://www.semanticscholar.org/paper/" + r.PaperID)
	}

	if r.Year > 0 {
		published := time.Date(r.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		p.PublishedAt = &published
	}

	return p
}

func formatAuthors(authors []Author) *string {
	if len(authors) == 0 {
		return nil
	}

	names := make([]string, 0, maxListedAuthors)
	for i, a := range authors {
		if i == maxListedAuthors {
			break
		}
		names = append(names, a.Name)
	}

	s := strings.Join(names, ", ")
	if len(authors) > maxListedAuthors {
		s += " et al."
	}
	return nonEmpty(s)
}

// externalID returns the first non-empty string id under any of keys.
func externalID(ids map[string]any, keys ...string) *string {
	for _, k := range keys {
		if s, ok := ids[k].(string); ok && s != "" {
			return &s
		}
	}
	return nil
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
