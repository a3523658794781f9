// Package source defines the contract between the collector and a store:
// an Adapter yields one page of normalised products plus the total the
// store reports, or a distinguished blocked or failure outcome.
//
// Adapters are built on a Transport. HTTPTransport fetches directly;
// SessionTransport drives a stealth browser tab. Which one a store uses is
// a configuration choice.
package source

import (
	"context"

	"github.com/hazyhaar/bravo/specials/internal/store"
)

// Scope selects which category list an adapter exposes.
type Scope string

const (
	ScopeSpecials  Scope = "specials"
	ScopeCatalogue Scope = "catalogue"
)

// Category is one paginated listing of a store.
type Category struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	URL     string `json:"url" yaml:"url"` // store-relative path of the listing
	Special bool   `json:"special" yaml:"special"`
}

// Page is one successfully decoded page. An empty Products slice is a
// legitimate outcome, distinct from ErrBlocked.
type Page struct {
	Products []store.Product
	Total    int
}

// Adapter fetches pages for one store. Implementations are not required to
// be safe for concurrent use; the collector drives one page at a time.
type Adapter interface {
	// Store is the store name used in every product key.
	Store() string
	// Categories lists the categories to walk for a scope.
	Categories(scope Scope) []Category
	// Open establishes the session (warm-up, cookies, challenge check).
	// It may return ErrBlocked.
	Open(ctx context.Context) error
	// FetchPage returns page (1-based) of cat. Errors are ErrBlocked or a
	// *FetchError.
	FetchPage(ctx context.Context, cat Category, page int) (*Page, error)
	Close() error
}
