// Package catalog serves the storefront's product and category reads through
// the cache, backed by a Source that talks to the database.
package catalog

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	Price       float64   `json:"price"`
	CategoryID  string    `json:"category_id,omitempty"`
	Images      []string  `json:"images,omitempty"`
	Featured    bool      `json:"featured"`
	Stock       int       `json:"stock"`
	CreatedAt   time.Time `json:"created_at"`
}

type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	ParentID string `json:"parent_id,omitempty"`
}

type Banner struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	ImageURL string `json:"image_url"`
	Link     string `json:"link,omitempty"`
	Position int    `json:"position"`
	Active   bool   `json:"active"`
}

// Sort orders for product listings.
const (
	SortNewest    = "newest"
	SortPriceAsc  = "price_asc"
	SortPriceDesc = "price_desc"
	SortName      = "name"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ProductFilter selects one page of products. Its JSON form is the cache key
// descriptor, so field order matters.
type ProductFilter struct {
	CategoryID string `json:"category_id,omitempty"`
	Search     string `json:"search,omitempty"`
	Featured   bool   `json:"featured,omitempty"`
	Sort       string `json:"sort,omitempty"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
}

// Normalize fills defaults and clamps paging so equal queries share a key.
func (f ProductFilter) Normalize() ProductFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	f.PageSize = min(f.PageSize, MaxPageSize)
	switch f.Sort {
	case SortNewest, SortPriceAsc, SortPriceDesc, SortName:
	default:
		f.Sort = SortNewest
	}
	return f
}

// Offset is the zero-based index of the first row on the page.
func (f ProductFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

// ProductPage is one cached listing page.
type ProductPage struct {
	Items    []Product `json:"items"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

// Homepage is the aggregate rendered on the storefront landing page.
type Homepage struct {
	Featured   []Product  `json:"featured"`
	Categories []Category `json:"categories"`
	Banners    []Banner   `json:"banners"`
}

// Source reads catalog rows from the system of record.
type Source interface {
	Products(ctx context.Context, filter ProductFilter) ([]Product, error)
	// Product returns found=false when id does not exist.
	Product(ctx context.Context, id string) (Product, bool, error)
	Categories(ctx context.Context) ([]Category, error)
	// Banners returns the active banners in display order.
	Banners(ctx context.Context) ([]Banner, error)
}
