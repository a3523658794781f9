package specials

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hazyhaar/bravo/dbopen"
	"github.com/hazyhaar/bravo/idgen"
	"github.com/hazyhaar/bravo/specials/internal/pacing"
	"github.com/hazyhaar/bravo/specials/internal/source"
	"github.com/hazyhaar/bravo/specials/internal/store"

	_ "modernc.org/sqlite"
)

// fakeStore serves one category whose pages are fixed product lists.
type fakeStore struct {
	name    string
	pages   [][]store.Product
	blocked bool
	fetches int
}

func (f *fakeStore) Store() string { return f.name }
func (f *fakeStore) Categories(source.Scope) []source.Category {
	return []source.Category{{ID: "all", Name: "All"}}
}
func (f *fakeStore) Open(context.Context) error { return nil }
func (f *fakeStore) Close() error               { return nil }

func (f *fakeStore) FetchPage(_ context.Context, _ source.Category, n int) (*source.Page, error) {
	f.fetches++
	if f.blocked {
		return nil, source.ErrBlocked
	}
	total := 0
	for _, p := range f.pages {
		total += len(p)
	}
	if n > len(f.pages) {
		return &source.Page{Total: total}, nil
	}
	return &source.Page{Products: f.pages[n-1], Total: total}, nil
}

func (f *fakeStore) set(ids ...string) {
	var page []store.Product
	for _, id := range ids {
		was := 4.0
		pct := 50
		page = append(page, store.Product{Store: f.name, ProductID: id, Name: "Item " + id,
			CurrentPrice: 2, OriginalPrice: &was, DiscountPct: &pct, SpecialType: source.SpecialHalfPrice})
	}
	f.pages = [][]store.Product{page}
}

func testConfig() *Config {
	zero := pacing.Spec{Kind: "fixed"}
	return &Config{Collect: CollectConfig{
		PageDelay: zero, SessionBreak: zero, CategoryPause: zero, CataloguePause: zero, StorePause: zero,
		BlockCooldown: -1, BaseBackoff: -1,
	}}
}

func newTestService(t *testing.T, cfg *Config, fakes ...*fakeStore) (*Service, *store.Store) {
	t.Helper()
	repo := store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	byName := map[string]*fakeStore{}
	for _, f := range fakes {
		byName[f.name] = f
	}
	svc, err := New(repo, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithAdapterFactory(func(sc StoreConfig) (source.Adapter, error) {
			f, ok := byName[sc.Name]
			if !ok {
				return nil, errors.New("no fake for " + sc.Name)
			}
			return f, nil
		}),
		WithIDGenerator(idgen.Sequence("id")),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	if err != nil {
		t.Fatal(err)
	}
	return svc, repo
}

func TestCollectSpecialsPipeline(t *testing.T) {
	// WHAT: A specials run upserts, records history, logs categories and computes intel per store.
	// WHY: The modes are the only entry points; every stage must be wired.
	coles := &fakeStore{name: "coles"}
	coles.set("A", "B")
	wool := &fakeStore{name: "woolworths"}
	wool.set("A")
	svc, repo := newTestService(t, testConfig(), coles, wool)
	ctx := context.Background()

	rep, err := svc.CollectSpecials(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Failed() || rep.Partial() || rep.Level() != slog.LevelInfo {
		t.Fatalf("report: %+v", rep)
	}
	if len(rep.Stores) != 2 || rep.Stores[0].Products != 2 || rep.Stores[1].Intel != 1 {
		t.Errorf("stores: %+v %+v", rep.Stores[0], rep.Stores[1])
	}

	active, _ := repo.ListSpecials(ctx, "")
	if len(active) != 3 {
		t.Errorf("active: %d, want 3", len(active))
	}
	hist, _ := repo.ListHistory(ctx, "")
	if len(hist) != 3 {
		t.Errorf("windows: %d, want 3", len(hist))
	}
	runs, _ := repo.ListRuns(ctx, 10)
	if len(runs) != 2 || runs[0].RunID != rep.RunID || runs[0].Status != "complete" {
		t.Errorf("runs: %+v", runs)
	}
	rec, err := repo.GetIntel(ctx, store.Key{Store: "coles", ProductID: "B"})
	if err != nil || !rec.IsOnSpecialNow || rec.TotalTimesOnSpecial != 1 {
		t.Errorf("intel B: %+v %v", rec, err)
	}

	// B leaves the coles listing.
	coles.set("A")
	if _, err := svc.CollectSpecials(ctx, nil); err != nil {
		t.Fatal(err)
	}
	active, _ = repo.ListSpecials(ctx, "coles")
	if len(active) != 1 || active[0].ProductID != "A" {
		t.Errorf("coles active: %+v", active)
	}
	hb, _ := repo.KeyHistory(ctx, store.Key{Store: "coles", ProductID: "B"})
	if len(hb) != 1 || !hb[0].Closed {
		t.Errorf("B history: %+v", hb)
	}
	rec, _ = repo.GetIntel(ctx, store.Key{Store: "coles", ProductID: "B"})
	if rec.IsOnSpecialNow || rec.TotalTimesOnSpecial != 1 || rec.DaysSinceLastSpecial == nil || *rec.DaysSinceLastSpecial != 0 {
		t.Errorf("intel B after archive: %+v", rec)
	}
}

func TestCollectSpecialsSubset(t *testing.T) {
	// WHAT: Restricting a run to one store never touches the other.
	coles := &fakeStore{name: "coles"}
	coles.set("A")
	wool := &fakeStore{name: "woolworths"}
	wool.set("W")
	svc, repo := newTestService(t, testConfig(), coles, wool)

	rep, err := svc.CollectSpecials(context.Background(), []string{"woolworths"})
	if err != nil {
		t.Fatal(err)
	}
	if coles.fetches != 0 {
		t.Errorf("coles fetched %d pages", coles.fetches)
	}
	if len(rep.Stores) != 1 || rep.Stores[0].Store != "woolworths" {
		t.Errorf("stores: %+v", rep.Stores)
	}
	if c, _ := repo.ListSpecials(context.Background(), "coles"); len(c) != 0 {
		t.Errorf("coles rows: %d", len(c))
	}
}

func TestBlockedStoreIsolated(t *testing.T) {
	// WHAT: A store blocked through the cooldown fails with error severity and keeps its specials.
	// WHY: A block says nothing about what is on special; archiving on it would erase history.
	coles := &fakeStore{name: "coles"}
	coles.set("A", "B")
	wool := &fakeStore{name: "woolworths"}
	wool.set("W")
	svc, repo := newTestService(t, testConfig(), coles, wool)
	ctx := context.Background()
	if _, err := svc.CollectSpecials(ctx, nil); err != nil {
		t.Fatal(err)
	}

	coles.blocked = true
	wool.set("W", "X")
	rep, err := svc.CollectSpecials(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Failed() || rep.Level() != slog.LevelError {
		t.Errorf("report not failed: %+v", rep)
	}
	if c, _ := repo.ListSpecials(ctx, "coles"); len(c) != 2 {
		t.Errorf("coles specials archived on block: %d", len(c))
	}
	if w, _ := repo.ListSpecials(ctx, "woolworths"); len(w) != 2 {
		t.Errorf("woolworths not reconciled: %d", len(w))
	}
	if coles.fetches != 1+2 {
		t.Errorf("coles fetches: %d, want 3", coles.fetches)
	}
}

func TestUnknownStoreRejected(t *testing.T) {
	svc, _ := newTestService(t, testConfig())
	if _, err := svc.CollectSpecials(context.Background(), []string{"aldi"}); !errors.Is(err, ErrUnknownStore) {
		t.Errorf("err: %v", err)
	}
}

func TestDisabledStoreSkipped(t *testing.T) {
	off := false
	cfg := testConfig()
	cfg.Stores = []StoreConfig{{Name: "coles"}, {Name: "woolworths", Enabled: &off}}
	svc, _ := newTestService(t, cfg)
	names, err := svc.Stores(nil)
	if err != nil || len(names) != 1 || names[0] != "coles" {
		t.Errorf("stores: %v %v", names, err)
	}
	if _, err := svc.Stores([]string{"woolworths"}); !errors.Is(err, ErrNoStores) {
		t.Errorf("disabled only: %v", err)
	}
}

func TestCollectCatalogue(t *testing.T) {
	// WHAT: A catalogue run stores the regular price and yields "never" intel for undiscounted items.
	coles := &fakeStore{name: "coles"}
	coles.set("S")
	coles.pages = append(coles.pages, []store.Product{{Store: "coles", ProductID: "R", Name: "Rice", CurrentPrice: 3}})
	svc, repo := newTestService(t, testConfig(), coles)
	ctx := context.Background()

	rep, err := svc.CollectCatalogue(ctx, []string{"coles"})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Failed() || rep.Mode != ModeCatalogue {
		t.Fatalf("report: %+v", rep)
	}
	cat, _ := repo.ListCatalogue(ctx, "coles")
	if len(cat) != 2 {
		t.Fatalf("catalogue: %+v", cat)
	}
	for _, e := range cat {
		if e.ProductID == "S" && e.RegularPrice != 4 {
			t.Errorf("S regular price: %v", e.RegularPrice)
		}
	}
	r, err := repo.GetIntel(ctx, store.Key{Store: "coles", ProductID: "R"})
	if err != nil || r.FrequencyClass != store.ClassNever {
		t.Errorf("R intel: %+v %v", r, err)
	}
	if a, _ := repo.ListSpecials(ctx, "coles"); len(a) != 0 {
		t.Errorf("catalogue run wrote specials: %d", len(a))
	}
}

func TestRecomputeIntel(t *testing.T) {
	svc, repo := newTestService(t, testConfig())
	ctx := context.Background()
	if err := repo.InsertWindows(ctx, []store.HistoryWindow{
		{Store: "woolworths", ProductID: "1", Name: "x", FirstSeen: time.Now().AddDate(0, 0, -40), LastSeen: time.Now().AddDate(0, 0, -38), Closed: true},
	}); err != nil {
		t.Fatal(err)
	}
	rep, err := svc.RecomputeIntel(ctx, []string{"woolworths"})
	if err != nil || rep.Failed() {
		t.Fatalf("%v %+v", err, rep)
	}
	if rep.Stores[0].Intel != 1 {
		t.Errorf("intel: %+v", rep.Stores[0])
	}
}

func TestEmptyListingKeepsSpecials(t *testing.T) {
	// WHAT: A store returning no products at all is not reconciled and the run is partial.
	// WHY: An empty specials listing is an upstream fault far more often than a real state.
	coles := &fakeStore{name: "coles"}
	coles.set("A")
	svc, repo := newTestService(t, testConfig(), coles)
	ctx := context.Background()
	if _, err := svc.CollectSpecials(ctx, []string{"coles"}); err != nil {
		t.Fatal(err)
	}

	coles.pages = nil
	rep, err := svc.CollectSpecials(ctx, []string{"coles"})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Failed() || !rep.Partial() {
		t.Errorf("report: %+v", rep.Stores[0])
	}
	if a, _ := repo.ListSpecials(ctx, "coles"); len(a) != 1 {
		t.Errorf("specials after empty listing: %d, want 1", len(a))
	}
}
