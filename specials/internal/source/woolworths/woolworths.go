// Package woolworths adapts the woolworths.com.au browse API. The API is
// only served to a session that passed the site's bot checks, so this
// adapter normally runs over the browser transport.
package woolworths

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/hazyhaar/bravo/specials/internal/source"
	"github.com/hazyhaar/bravo/specials/internal/store"
)

// StoreName is the key used for Woolworths products.
const StoreName = "woolworths"

const (
	DefaultBaseURL  = "https://www.woolworths.com.au"
	DefaultImageCDN = "https://cdn0.woolworths.media/content/wowproductimages/medium"

	browsePath = "/apis/ui/browse/category"
	pageSize   = 36
)

var SpecialsCategories = []source.Category{
	{ID: "specialsgroup.3676", Name: "Half Price", URL: "/shop/browse/specials/half-price", Special: true},
	{ID: "specialsgroup.3694", Name: "Lower Shelf Price", URL: "/shop/browse/specials/lower-prices", Special: true},
}

var CatalogueCategories = []source.Category{
	{ID: "1-E5BEE36E", Name: "Fruit & Veg", URL: "/shop/browse/fruit-veg"},
	{ID: "1_D5A2236", Name: "Meat, Seafood & Deli", URL: "/shop/browse/meat-seafood-deli"},
	{ID: "1_6E4F4E4", Name: "Dairy, Eggs & Fridge", URL: "/shop/browse/dairy-eggs-fridge"},
	{ID: "1_39FD49C", Name: "Pantry", URL: "/shop/browse/pantry"},
	{ID: "1_5AF3A0A", Name: "Drinks", URL: "/shop/browse/drinks"},
	{ID: "1_2432B58", Name: "Household", URL: "/shop/browse/household"},
}

// groceryDepartments are the SAP departments kept. Anything else (apparel,
// electronics, marketplace) is dropped.
var groceryDepartments = map[string]bool{
	"GROCERIES": true, "FRESH PRODUCE": true, "FRUIT AND VEG": true, "MEAT": true,
	"DAIRY": true, "FROZEN": true, "DELI": true, "BAKERY": true,
	"HEALTH & BEAUTY": true, "BABY": true, "PET": true, "DRINKS": true,
	"LIQUOR": true, "PANTRY": true, "HOUSEHOLD": true, "LONG LIFE": true,
	"SEAFOOD": true, "POULTRY": true, "SMALLGOODS": true,
}

type Config struct {
	BaseURL   string
	ImageCDN  string
	Specials  []source.Category
	Catalogue []source.Category
}

// Adapter implements source.Adapter for Woolworths.
type Adapter struct {
	tr  source.Transport
	cfg Config
}

var _ source.Adapter = (*Adapter)(nil)

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

// Open establishes the session on the half-price listing.
func (a *Adapter) Open(ctx context.Context) error {
	return a.tr.Open(ctx, a.cfg.BaseURL+a.cfg.Specials[0].URL)
}

func (a *Adapter) Close() error { return a.tr.Close() }

type browseRequest struct {
	CategoryID   string `json:"categoryId"`
	PageNumber   int    `json:"pageNumber"`
	PageSize     int    `json:"pageSize"`
	SortType     string `json:"sortType"`
	URL          string `json:"url"`
	IsSpecial    bool   `json:"isSpecial"`
	IsBundle     bool   `json:"isBundle"`
	FormatObject string `json:"formatObject"`
}

// RequestBody builds the browse API payload for page n of cat.
func RequestBody(cat source.Category, n int) ([]byte, error) {
	format, err := json.Marshal(map[string]string{"name": cat.Name})
	if err != nil {
		return nil, err
	}
	return json.Marshal(browseRequest{
		CategoryID:   cat.ID,
		PageNumber:   n,
		PageSize:     pageSize,
		SortType:     "TraderRelevance",
		URL:          cat.URL,
		IsSpecial:    cat.Special,
		IsBundle:     false,
		FormatObject: string(format),
	})
}

func (a *Adapter) FetchPage(ctx context.Context, cat source.Category, n int) (*source.Page, error) {
	body, err := RequestBody(cat, n)
	if err != nil {
		return nil, source.Parse(err)
	}
	resp, err := a.tr.Do(ctx, &source.Request{
		Method: http.MethodPost,
		URL:    a.cfg.BaseURL + browsePath,
		Header: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		Body: body,
	})
	if err != nil {
		return nil, err
	}
	if err := source.Check(resp); err != nil {
		return nil, err
	}
	return a.ParseBrowse(resp.Body, cat)
}

// ParseBrowse decodes a browse API response.
func (a *Adapter) ParseBrowse(data []byte, cat source.Category) (*source.Page, error) {
	if !gjson.ValidBytes(data) {
		return nil, source.Parse(errors.New("invalid browse json"))
	}
	root := gjson.ParseBytes(data)
	total := root.Get("TotalRecordCount")
	if !total.Exists() {
		return nil, source.Parse(errors.New("TotalRecordCount missing"))
	}

	page := &source.Page{Total: int(total.Int())}
	for _, bundle := range root.Get("Bundles").Array() {
		for _, raw := range bundle.Get("Products").Array() {
			if p, ok := a.parseProduct(raw, cat); ok {
				page.Products = append(page.Products, p)
			}
		}
	}
	return page, nil
}

func (a *Adapter) parseProduct(r gjson.Result, cat source.Category) (store.Product, bool) {
	if r.Get("IsMarketProduct").Bool() || present(r.Get("Vendor")) || present(r.Get("ThirdPartyProductInfo")) {
		return store.Product{}, false
	}
	price := r.Get("Price")
	if !price.Exists() || price.Type == gjson.Null {
		return store.Product{}, false
	}

	attrs := r.Get("AdditionalAttributes")
	dept := strings.ToUpper(strings.TrimSpace(attrs.Get("sapdepartmentname").String()))
	if dept != "" && !groceryDepartments[dept] {
		return store.Product{}, false
	}

	stockcode := r.Get("Stockcode").String()
	was := r.Get("WasPrice").Float()
	discount := source.DiscountPct(was, r.Get("SavingsAmount").Float())

	name := r.Get("DisplayName").String()
	if name == "" {
		name = r.Get("Name").String()
	}

	p := store.Product{
		Store:         StoreName,
		ProductID:     stockcode,
		Name:          name,
		Brand:         r.Get("Brand").String(),
		Category:      category(attrs),
		CurrentPrice:  price.Float(),
		OriginalPrice: source.PositivePrice(was),
		DiscountPct:   discount,
		ImageURL:      r.Get("MediumImageFile").String(),
		Size:          r.Get("PackageSize").String(),
	}
	if p.Category == "" {
		p.Category = cat.Name
	}
	if p.ImageURL == "" && stockcode != "" {
		p.ImageURL = fmt.Sprintf("%s/%s.jpg", a.cfg.ImageCDN, stockcode)
	}
	if stockcode != "" {
		p.ProductURL = fmt.Sprintf("%s/shop/productdetails/%s", a.cfg.BaseURL, stockcode)
	}
	switch {
	case r.Get("IsHalfPrice").Bool():
		p.SpecialType = source.SpecialHalfPrice
	case r.Get("IsOnSpecial").Bool():
		p.SpecialType = source.SpecialReduced
	}

	if !source.Normalize(&p) {
		return store.Product{}, false
	}
	return p, true
}

// category resolves a readable category from AdditionalAttributes:
// the first PIES department, then the SAP category, then the SAP department.
func category(attrs gjson.Result) string {
	if pies := attrs.Get("piesdepartmentnamesjson").String(); pies != "" && gjson.Valid(pies) {
		if first := gjson.Get(pies, "0"); first.Exists() && first.String() != "" {
			return first.String()
		}
	}
	if c := strings.TrimSpace(attrs.Get("sapcategoryname").String()); c != "" {
		return titleCase(c)
	}
	if d := strings.TrimSpace(attrs.Get("sapdepartmentname").String()); d != "" {
		return titleCase(d)
	}
	return ""
}

func present(v gjson.Result) bool {
	return v.Exists() && v.Type != gjson.Null && v.String() != "" && v.Type != gjson.False
}

// titleCase turns "BISCUITS & COOKIES" into "Biscuits & Cookies". Casers
// are stateful, so one is built per call.
func titleCase(s string) string {
	return cases.Title(language.English).String(strings.ToLower(s))
}
