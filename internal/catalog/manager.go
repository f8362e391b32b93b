package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Domain errors returned by the Manager.
var (
	ErrNotFound     = errors.New("ingredient not found")
	ErrInvalidPaper = errors.New("paper requires an ingredient name and a title")
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Manager handles business logic for the ingredient catalog.
type Manager struct {
	ds  *Datastore
	now func() time.Time
}

// NewManager creates a new catalog manager.
func NewManager(ds *Datastore) *Manager {
	return &Manager{ds: ds, now: time.Now}
}

// ListIngredients returns ingredients whose name contains search,
// case-insensitively. An empty search lists everything.
func (m *Manager) ListIngredients(ctx context.Context, search string, limit, offset int) ([]*Ingredient, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	pattern := "%" + escapeLike(strings.TrimSpace(search)) + "%"
	ingredients, err := m.ds.ListIngredients(ctx, pattern, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingredients: %w", err)
	}
	return ingredients, nil
}

// ProductsForIngredient returns the products that list the ingredient.
// Returns ErrNotFound if the ingredient is unknown.
func (m *Manager) ProductsForIngredient(ctx context.Context, name string) ([]*Product, error) {
	if err := m.requireIngredient(ctx, name); err != nil {
		return nil, err
	}

	products, err := m.ds.ProductsForIngredient(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// PapersForIngredient returns the papers linked to the ingredient.
// Returns ErrNotFound if the ingredient is unknown.
func (m *Manager) PapersForIngredient(ctx context.Context, name string) ([]*Paper, error) {
	if err := m.requireIngredient(ctx, name); err != nil {
		return nil, err
	}

	papers, err := m.ds.PapersForIngredient(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list papers: %w", err)
	}
	return papers, nil
}

// IngredientNames scans every ingredient name in pages of pageSize and
// returns them sorted and unique.
func (m *Manager) IngredientNames(ctx context.Context, pageSize int) ([]string, error) {
	if pageSize <= 0 {
		pageSize = 1000
	}

	var names []string
	for offset := 0; ; offset += pageSize {
		page, err := m.ds.IngredientNames(ctx, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to list ingredient names: %w", err)
		}
		for _, n := range page {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		if len(page) < pageSize {
			break
		}
	}

	slices.Sort(names)
	return slices.Compact(names), nil
}

// PaperExists reports whether the ingredient already has a paper with title.
func (m *Manager) PaperExists(ctx context.Context, ingredient, title string) (bool, error) {
	exists, err := m.ds.PaperExists(ctx, ingredient, title)
	if err != nil {
		return false, fmt.Errorf("failed to check paper: %w", err)
	}
	return exists, nil
}

// InsertPaper stores p, assigning an id and creation time when unset.
// Returns false without error when the paper was a duplicate.
func (m *Manager) InsertPaper(ctx context.Context, p *Paper) (bool, error) {
	p.IngredientName = strings.TrimSpace(p.IngredientName)
	p.Title = strings.TrimSpace(p.Title)
	if p.IngredientName == "" || p.Title == "" {
		return false, ErrInvalidPaper
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}

	n, err := m.ds.InsertPaper(ctx, p)
	if err != nil {
		return false, fmt.Errorf("failed to insert paper: %w", err)
	}
	return n > 0, nil
}

func (m *Manager) requireIngredient(ctx context.Context, name string) error {
	exists, err := m.ds.IngredientExists(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to get ingredient: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
