// Package coles adapts coles.com.au listing pages. Every listing is a
// server-rendered Next.js page whose __NEXT_DATA__ script holds the search
// results, so one GET per page is enough.
package coles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/net/html"

	"github.com/hazyhaar/bravo/specials/internal/source"
	"github.com/hazyhaar/bravo/specials/internal/store"
)

// StoreName is the key used for Coles products.
const StoreName = "coles"

const (
	DefaultBaseURL  = "https://www.coles.com.au"
	DefaultImageCDN = "https://cdn.productimages.coles.com.au/productimages"
)

// SpecialsCategories is the single on-special listing.
var SpecialsCategories = []source.Category{
	{ID: "on-special", Name: "On Special", URL: "/on-special", Special: true},
}

// CatalogueCategories are the browse departments synced for the baseline.
var CatalogueCategories = []source.Category{
	{ID: "fruit-vegetables", Name: "Fruit & Vegetables", URL: "/browse/fruit-vegetables"},
	{ID: "meat-seafood", Name: "Meat & Seafood", URL: "/browse/meat-seafood"},
	{ID: "dairy-eggs-fridge", Name: "Dairy, Eggs & Fridge", URL: "/browse/dairy-eggs-fridge"},
	{ID: "pantry", Name: "Pantry", URL: "/browse/pantry"},
	{ID: "drinks", Name: "Drinks", URL: "/browse/drinks"},
	{ID: "household", Name: "Household", URL: "/browse/household"},
}

// halfPriceThreshold is the discount from which a Coles promotion is
// reported as half price. Rounding on odd cent prices lands some genuine
// half-price offers just below 50.
const halfPriceThreshold = 48

// Config configures the adapter. Zero fields take the package defaults.
type Config struct {
	BaseURL   string
	ImageCDN  string
	Specials  []source.Category
	Catalogue []source.Category
}

// Adapter implements source.Adapter for Coles.
type Adapter struct {
	tr  source.Transport
	cfg Config
}

var _ source.Adapter = (*Adapter)(nil)

// New creates an Adapter over tr.
func New(tr source.Transport, cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ImageCDN == "" {
		cfg.ImageCDN = DefaultImageCDN
	}
	if len(cfg.Specials) == 0 {
		cfg.Specials = SpecialsCategories
	}
	if len(cfg.Catalogue) == 0 {
		cfg.Catalogue = CatalogueCategories
	}
	return &Adapter{tr: tr, cfg: cfg}
}

func (a *Adapter) Store() string { return StoreName }

func (a *Adapter) Categories(scope source.Scope) []source.Category {
	if scope == source.ScopeCatalogue {
		return a.cfg.Catalogue
	}
	return a.cfg.Specials
}

// Open warms the session on the on-special page.
func (a *Adapter) Open(ctx context.Context) error {
	return a.tr.Open(ctx, a.cfg.BaseURL+"/on-special")
}

func (a *Adapter) Close() error { return a.tr.Close() }

// PageURL returns the listing URL of page n (1-based).
func (a *Adapter) PageURL(cat source.Category, n int) string {
	u := a.cfg.BaseURL + cat.URL
	if n > 1 {
		u += "?page=" + strconv.Itoa(n)
	}
	return u
}

func (a *Adapter) FetchPage(ctx context.Context, cat source.Category, n int) (*source.Page, error) {
	resp, err := a.tr.Do(ctx, &source.Request{
		Method: http.MethodGet,
		URL:    a.PageURL(cat, n),
		Header: map[string]string{"Referer": a.cfg.BaseURL + "/on-special"},
	})
	if err != nil {
		return nil, err
	}
	if err := source.Check(resp); err != nil {
		return nil, err
	}
	data := NextData(resp.Body)
	if data == nil {
		return nil, source.Parse(errors.New("no __NEXT_DATA__"))
	}
	if !gjson.ValidBytes(data) {
		return nil, source.Parse(errors.New("invalid __NEXT_DATA__ json"))
	}
	return a.ParseSearchResults(data, cat)
}

// NextData returns the contents of <script id="__NEXT_DATA__">, or nil.
func NextData(doc []byte) []byte {
	z := html.NewTokenizer(bytes.NewReader(doc))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return nil
		case html.StartTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "script" || !hasAttr {
				continue
			}
			for {
				key, val, more := z.TagAttr()
				if string(key) == "id" && string(val) == "__NEXT_DATA__" {
					if z.Next() == html.TextToken {
						return bytes.Clone(z.Text())
					}
					return nil
				}
				if !more {
					break
				}
			}
		}
	}
}

// ParseSearchResults decodes a __NEXT_DATA__ document (or a _next/data
// payload, which lacks the outer "props") into a page.
func (a *Adapter) ParseSearchResults(data []byte, cat source.Category) (*source.Page, error) {
	root := gjson.ParseBytes(data)
	search := root.Get("props.pageProps.searchResults")
	if !search.Exists() {
		search = root.Get("pageProps.searchResults")
	}
	if !search.Exists() {
		return nil, source.Parse(errors.New("searchResults missing"))
	}

	page := &source.Page{Total: int(search.Get("noOfResults").Int())}
	for _, r := range search.Get("results").Array() {
		if r.Get("_type").String() != "PRODUCT" {
			continue
		}
		p, ok := a.parseProduct(r, cat)
		if !ok {
			continue
		}
		page.Products = append(page.Products, p)
	}
	return page, nil
}

func (a *Adapter) parseProduct(r gjson.Result, cat source.Category) (store.Product, bool) {
	now := r.Get("pricing.now")
	if !now.Exists() || now.Type == gjson.Null {
		return store.Product{}, false
	}
	id := r.Get("id").String()
	was := r.Get("pricing.was").Float()
	save := r.Get("pricing.saveAmount").Float()
	discount := source.DiscountPct(was, save)

	p := store.Product{
		Store:         StoreName,
		ProductID:     id,
		Name:          r.Get("name").String(),
		Brand:         r.Get("brand").String(),
		CurrentPrice:  now.Float(),
		OriginalPrice: source.PositivePrice(was),
		DiscountPct:   discount,
		Size:          r.Get("size").String(),
		ProductURL:    fmt.Sprintf("%s/product/%s", a.cfg.BaseURL, id),
	}

	switch {
	case discount != nil && *discount >= halfPriceThreshold:
		p.SpecialType = source.SpecialHalfPrice
	case r.Get("pricing.promotionType").String() != "":
		p.SpecialType = source.SpecialReduced
	}

	if uri := r.Get("imageUris.0.uri").String(); uri != "" {
		p.ImageURL = a.cfg.ImageCDN + uri
	}

	heir := r.Get("onlineHeirs.0")
	p.Category = heir.Get("subCategory").String()
	if p.Category == "" {
		p.Category = heir.Get("category").String()
	}
	if p.Category == "" && !cat.Special {
		p.Category = cat.Name
	}

	if !source.Normalize(&p) {
		return store.Product{}, false
	}
	return p, true
}
