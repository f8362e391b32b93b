package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"dermodel/internal/catalog"
	"dermodel/internal/httpjson"

	"go.uber.org/zap"
)

// Catalog is the read side of the ingredient catalog.
type Catalog interface {
	ListIngredients(ctx context.Context, search string, limit, offset int) ([]*catalog.Ingredient, error)
	ProductsForIngredient(ctx context.Context, name string) ([]*catalog.Product, error)
	PapersForIngredient(ctx context.Context, name string) ([]*catalog.Paper, error)
}

// CatalogHandler serves ingredient, product and paper lookups.
type CatalogHandler struct {
	catalog Catalog
	logger  *zap.Logger
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(c Catalog, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: c, logger: logger}
}

// List handles GET /api/v1/ingredients
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	ingredients, err := h.catalog.ListIngredients(r.Context(), q.Get("search"), limit, offset)
	if err != nil {
		h.logger.Error("failed to list ingredients", zap.Error(err))
		httpjson.WriteInternal(w)
		return
	}
	if ingredients == nil {
		ingredients = []*catalog.Ingredient{}
	}

	httpjson.Write(w, http.StatusOK, map[string]any{
		"ingredients": ingredients,
		"count":       len(ingredients),
	})
}

// Products handles GET /api/v1/ingredients/{name}/products
func (h *CatalogHandler) Products(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	products, err := h.catalog.ProductsForIngredient(r.Context(), name)
	if err != nil {
		h.writeLookupError(w, name, err)
		return
	}
	if products == nil {
		products = []*catalog.Product{}
	}

	httpjson.Write(w, http.StatusOK, map[string]any{
		"ingredient": name,
		"products":   products,
		"count":      len(products),
	})
}

// Papers handles GET /api/v1/ingredients/{name}/papers
func (h *CatalogHandler) Papers(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	papers, err := h.catalog.PapersForIngredient(r.Context(), name)
	if err != nil {
		h.writeLookupError(w, name, err)
		return
	}
	if papers == nil {
		papers = []*catalog.Paper{}
	}

	httpjson.Write(w, http.StatusOK, map[string]any{
		"ingredient": name,
		"papers":     papers,
		"count":      len(papers),
	})
}

func (h *CatalogHandler) writeLookupError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		httpjson.WriteError(w, http.StatusNotFound, "ingredient not found", httpjson.TypeNotFound)
		return
	}
	h.logger.Error("failed to look up ingredient", zap.String("ingredient", name), zap.Error(err))
	httpjson.WriteInternal(w)
}
