package source

import (
	"html"
	"math"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/bravo/specials/internal/store"
)

// Special types.
const (
	SpecialHalfPrice = "half-price"
	SpecialReduced   = "reduced"
)

var strict = bluemonday.StrictPolicy()

// CleanText strips markup from a scraped string, decodes entities and
// collapses whitespace.
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	s = html.UnescapeString(strict.Sanitize(s))
	return strings.Join(strings.Fields(s), " ")
}

// DiscountPct returns round(save / was × 100), or nil when either input is
// not positive or the result rounds to zero.
func DiscountPct(was, save float64) *int {
	if was <= 0 || save <= 0 {
		return nil
	}
	pct := int(math.Round(save / was * 100))
	if pct <= 0 {
		return nil
	}
	return &pct
}

// PositivePrice returns &v when v > 0.
func PositivePrice(v float64) *float64 {
	if v <= 0 {
		return nil
	}
	return &v
}

// Normalize cleans text fields in place and drops products that cannot be
// keyed or priced. It reports whether p is usable.
func Normalize(p *store.Product) bool {
	p.ProductID = strings.TrimSpace(p.ProductID)
	p.Name = CleanText(p.Name)
	p.Brand = CleanText(p.Brand)
	p.Category = CleanText(p.Category)
	p.Size = CleanText(p.Size)
	if p.ProductID == "" || p.CurrentPrice <= 0 {
		return false
	}
	if p.OriginalPrice != nil && *p.OriginalPrice <= 0 {
		p.OriginalPrice = nil
	}
	return true
}
