package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Ingredient is a cosmetic ingredient keyed by its INCI name.
type Ingredient struct {
	Name        string  `json:"name"`
	Function    *string `json:"function"`
	Description *string `json:"description"`
}

// Product is a retail product that lists ingredients.
type Product struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Brand    *string   `json:"brand"`
	Category *string   `json:"category"`
	URL      *string   `json:"url"`
}

// Paper is a research paper linked to an ingredient.
type Paper struct {
	ID             uuid.UUID  `json:"id"`
	IngredientName string     `json:"ingredient_name"`
	Title          string     `json:"title"`
	Authors        *string    `json:"authors"`
	Journal        *string    `json:"journal"`
	DOI            *string    `json:"doi"`
	URL            *string    `json:"url"`
	PublishedAt    *time.Time `json:"published_at"`
	ArxivID        *string    `json:"arxiv_id"`
	Issue          *string    `json:"issue"`
	Volume         *string    `json:"volume"`
	CreatedAt      time.Time  `json:"created_at"`
}
