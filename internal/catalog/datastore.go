package catalog

import (
	"context"
	"database/sql"
)

// DBTX is the interface for database operations.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const paperColumns = `id, ingredient_name, title, authors, journal, doi, url, published_at, arxiv_id, issue, volume, created_at`

// Datastore handles database operations for the ingredient catalog.
// It returns raw driver errors.
type Datastore struct {
	db DBTX
}

// NewDatastore creates a new catalog datastore.
func NewDatastore(db DBTX) *Datastore {
	return &Datastore{db: db}
}

// ListIngredients returns ingredients whose name matches the ILIKE pattern.
func (ds *Datastore) ListIngredients(ctx context.Context, pattern string, limit, offset int) ([]*Ingredient, error) {
	query := `
		SELECT name, function, description
		FROM ingredients
		WHERE name ILIKE $1
		ORDER BY name
		LIMIT $2 OFFSET $3`

	rows, err := ds.db.QueryContext(ctx, query, pattern, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*Ingredient
	for rows.Next() {
		ing := &Ingredient{}
		if err := rows.Scan(&ing.Name, &ing.Function, &ing.Description); err != nil {
			return nil, err
		}
		out = append(out, ing)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// IngredientExists reports whether an ingredient with the exact name exists.
func (ds *Datastore) IngredientExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := ds.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ingredients WHERE name = $1)`, name,
	).Scan(&exists)
	return exists, err
}

// IngredientNames returns one page of ingredient names in name order.
func (ds *Datastore) IngredientNames(ctx context.Context, limit, offset int) ([]string, error) {
	rows, err := ds.db.QueryContext(ctx,
		`SELECT name FROM ingredients ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return names, nil
}

// ProductsForIngredient returns products containing the ingredient, in
// the order they were linked.
func (ds *Datastore) ProductsForIngredient(ctx context.Context, name string) ([]*Product, error) {
	query := `
		SELECT p.id, p.name, p.brand, p.category, p.url
		FROM products p
		JOIN product_ingredients pi ON pi.product_id = p.id
		WHERE pi.ingredient_name = $1
		ORDER BY pi.position, p.name`

	rows, err := ds.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*Product
	for rows.Next() {
		p := &Product{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Brand, &p.Category, &p.URL); err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// PapersForIngredient returns papers for the ingredient, newest first.
func (ds *Datastore) PapersForIngredient(ctx context.Context, name string) ([]*Paper, error) {
	query := `SELECT ` + paperColumns + `
		FROM papers
		WHERE ingredient_name = $1
		ORDER BY published_at DESC NULLS LAST, title`

	rows, err := ds.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*Paper
	for rows.Next() {
		p := &Paper{}
		if err := rows.Scan(
			&p.ID, &p.IngredientName, &p.Title, &p.Authors, &p.Journal, &p.DOI, &p.URL,
			&p.PublishedAt, &p.ArxivID, &p.Issue, &p.Volume, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// PaperExists reports whether a paper with the same title is already
// linked to the ingredient.
func (ds *Datastore) PaperExists(ctx context.Context, ingredient, title string) (bool, error) {
	var exists bool
	err := ds.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM papers WHERE ingredient_name = $1 AND title = $2)`,
		ingredient, title,
	).Scan(&exists)
	return exists, err
}

// InsertPaper inserts p unless (ingredient_name, title) is taken.
// Returns rows affected for the caller to interpret.
func (ds *Datastore) InsertPaper(ctx context.Context, p *Paper) (int64, error) {
	query := `
		INSERT INTO papers (` + paperColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (ingredient_name, title) DO NOTHING`

	result, err := ds.db.ExecContext(ctx, query,
		p.ID, p.IngredientName, p.Title, p.Authors, p.Journal, p.DOI, p.URL,
		p.PublishedAt, p.ArxivID, p.Issue, p.Volume, p.CreatedAt,
	)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
