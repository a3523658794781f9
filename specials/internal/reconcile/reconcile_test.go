package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hazyhaar/bravo/dbopen"
	"github.com/hazyhaar/bravo/specials/internal/store"

	_ "modernc.org/sqlite"
)

type fixture struct {
	repo *store.Store
	rec  *Reconciler
	hist *Recorder
	day  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		repo: repo,
		rec:  NewReconciler(repo, log),
		hist: NewRecorder(repo, log),
		day:  time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}
	f.rec.now = func() time.Time { return f.day }
	f.hist.now = func() time.Time { return f.day }
	return f
}

// run performs one full daily pass for a single store.
func (f *fixture) run(t *testing.T, storeName string, products []store.Product, complete bool) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.rec.Reconcile(ctx, storeName, products, complete); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if _, err := f.hist.Record(ctx, products); err != nil {
		t.Fatalf("record: %v", err)
	}
}

func prod(storeName, id string, price float64) store.Product {
	pct := 25
	was := price * 4 / 3
	return store.Product{Store: storeName, ProductID: id, Name: "Item " + id, CurrentPrice: price,
		OriginalPrice: &was, DiscountPct: &pct, SpecialType: "reduced"}
}

func keys(as []store.ActiveSpecial) map[string]bool {
	out := map[string]bool{}
	for _, a := range as {
		out[a.ProductID] = true
	}
	return out
}

func TestIdempotentSameDay(t *testing.T) {
	// WHAT: Reconciling the same set twice on one day leaves one active row and one window per key.
	// WHY: Runs are retried; a retry must not fabricate occurrences.
	f := newFixture(t)
	ctx := context.Background()
	set := []store.Product{prod("coles", "A", 2), prod("coles", "B", 3)}

	f.run(t, "coles", set, true)
	f.run(t, "coles", set, true)

	active, _ := f.repo.ListSpecials(ctx, "coles")
	if len(active) != 2 {
		t.Errorf("active rows: %d, want 2", len(active))
	}
	hist, _ := f.repo.ListHistory(ctx, "coles")
	if len(hist) != 2 {
		t.Errorf("windows: %d, want 2", len(hist))
	}
	for _, w := range hist {
		if w.Closed || !w.FirstSeen.Equal(store.Day(f.day)) || !w.LastSeen.Equal(store.Day(f.day)) {
			t.Errorf("window: %+v", w)
		}
	}
}

func TestConsecutiveDaysExtend(t *testing.T) {
	// WHAT: An uninterrupted special keeps one open window whose last_seen moves forward.
	// WHY: One occurrence must stay one window however long it runs.
	f := newFixture(t)
	ctx := context.Background()
	start := f.day
	for i := 0; i < 4; i++ {
		f.day = start.AddDate(0, 0, i)
		f.run(t, "coles", []store.Product{prod("coles", "A", 2)}, true)
	}
	hist, _ := f.repo.KeyHistory(ctx, store.Key{Store: "coles", ProductID: "A"})
	if len(hist) != 1 {
		t.Fatalf("windows: %d, want 1", len(hist))
	}
	if !hist[0].FirstSeen.Equal(store.Day(start)) || !hist[0].LastSeen.Equal(store.Day(f.day)) {
		t.Errorf("window span: %s..%s", store.FormatDay(hist[0].FirstSeen), store.FormatDay(hist[0].LastSeen))
	}
	active, _ := f.repo.ListSpecials(ctx, "coles")
	if len(active) != 1 || !active[0].ValidFrom.Equal(store.Day(start)) {
		t.Errorf("valid_from moved: %+v", active)
	}
}

func TestArchiveCorrectness(t *testing.T) {
	// WHAT: Active {A,B}, today {A}: B is removed and exactly one closed window for B ends today.
	// WHY: Archiving is the only path that separates occurrences.
	f := newFixture(t)
	ctx := context.Background()
	f.run(t, "coles", []store.Product{prod("coles", "A", 2), prod("coles", "B", 3)}, true)

	f.day = f.day.AddDate(0, 0, 5)
	f.run(t, "coles", []store.Product{prod("coles", "A", 2)}, true)

	active, _ := f.repo.ListSpecials(ctx, "coles")
	if k := keys(active); len(k) != 1 || !k["A"] {
		t.Errorf("active: %v", k)
	}
	hb, _ := f.repo.KeyHistory(ctx, store.Key{Store: "coles", ProductID: "B"})
	if len(hb) != 1 {
		t.Fatalf("B windows: %d, want 1", len(hb))
	}
	if !hb[0].Closed || !hb[0].LastSeen.Equal(store.Day(f.day)) || !hb[0].FirstSeen.Equal(store.Day(f.day.AddDate(0, 0, -5))) {
		t.Errorf("B window: %+v", hb[0])
	}
	ha, _ := f.repo.KeyHistory(ctx, store.Key{Store: "coles", ProductID: "A"})
	if len(ha) != 1 || ha[0].Closed {
		t.Errorf("A windows: %+v", ha)
	}

	// B returns: a second, separate occurrence opens.
	f.day = f.day.AddDate(0, 0, 10)
	f.run(t, "coles", []store.Product{prod("coles", "A", 2), prod("coles", "B", 3)}, true)
	hb, _ = f.repo.KeyHistory(ctx, store.Key{Store: "coles", ProductID: "B"})
	if len(hb) != 2 || !hb[0].Closed || hb[1].Closed {
		t.Errorf("B after return: %+v", hb)
	}
}

func TestArchiveWithoutWindowInsertsClosed(t *testing.T) {
	// WHAT: An expired special with no open window gets a closed window from valid_from to today.
	// WHY: Rows written before history tracking, or after a crash, still leave a trace.
	f := newFixture(t)
	ctx := context.Background()
	from := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	if err := f.repo.UpsertSpecials(ctx, []store.ActiveSpecial{{Product: prod("coles", "Z", 4), ValidFrom: from}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	res, err := f.rec.Reconcile(ctx, "coles", nil, true)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Expired != 1 || res.Inserted != 1 {
		t.Errorf("result: %+v", res)
	}
	hz, _ := f.repo.KeyHistory(ctx, store.Key{Store: "coles", ProductID: "Z"})
	if len(hz) != 1 || !hz[0].Closed || !hz[0].FirstSeen.Equal(from) || !hz[0].LastSeen.Equal(store.Day(f.day)) {
		t.Errorf("window: %+v", hz)
	}
	if hz[0].CurrentPrice == nil || *hz[0].CurrentPrice != 4 {
		t.Errorf("snapshot: %v", hz[0].CurrentPrice)
	}
}

func TestIncompleteSkipsArchive(t *testing.T) {
	// WHAT: A partial collection upserts what it saw but expires nothing.
	// WHY: Products missing from a partial walk were simply not reached.
	f := newFixture(t)
	ctx := context.Background()
	f.run(t, "coles", []store.Product{prod("coles", "A", 2), prod("coles", "B", 3)}, true)

	f.day = f.day.AddDate(0, 0, 1)
	f.run(t, "coles", []store.Product{prod("coles", "A", 2.5)}, false)

	active, _ := f.repo.ListSpecials(ctx, "coles")
	if len(active) != 2 {
		t.Errorf("active: %d, want 2", len(active))
	}
	for _, a := range active {
		if a.ProductID == "A" && a.CurrentPrice != 2.5 {
			t.Errorf("partial upsert not applied: %v", a.CurrentPrice)
		}
	}
	hist, _ := f.repo.ListHistory(ctx, "coles")
	for _, w := range hist {
		if w.Closed {
			t.Errorf("window closed on partial run: %+v", w)
		}
	}
}

func TestStoresAreIndependent(t *testing.T) {
	// WHAT: Reconciling one store never expires another store's specials, even with equal IDs.
	// WHY: Identity is store-scoped.
	f := newFixture(t)
	ctx := context.Background()
	f.run(t, "coles", []store.Product{prod("coles", "1", 2)}, true)
	f.run(t, "woolworths", []store.Product{prod("woolworths", "1", 2)}, true)

	f.day = f.day.AddDate(0, 0, 1)
	f.run(t, "coles", nil, true)

	w, _ := f.repo.ListSpecials(ctx, "woolworths")
	c, _ := f.repo.ListSpecials(ctx, "coles")
	if len(w) != 1 || len(c) != 0 {
		t.Errorf("woolworths %d coles %d", len(w), len(c))
	}
	open, _ := f.repo.OpenWindows(ctx, "")
	if _, ok := open[store.Key{Store: "woolworths", ProductID: "1"}]; !ok {
		t.Error("woolworths window was closed")
	}
}

func TestOrphanOpenWindowClosed(t *testing.T) {
	// WHAT: An open window with no active row and no sighting is closed at its last_seen.
	// WHY: Crash residue must not be extended into a later, separate occurrence.
	f := newFixture(t)
	ctx := context.Background()
	last := time.Date(2026, 2, 25, 0, 0, 0, 0, time.UTC)
	orphan := []store.HistoryWindow{{Store: "coles", ProductID: "O", FirstSeen: last.AddDate(0, 0, -3), LastSeen: last}}
	if err := f.repo.InsertWindows(ctx, orphan); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := f.rec.Reconcile(ctx, "coles", nil, true); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	h, _ := f.repo.KeyHistory(ctx, store.Key{Store: "coles", ProductID: "O"})
	if len(h) != 1 || !h[0].Closed || !h[0].LastSeen.Equal(last) {
		t.Errorf("orphan: %+v", h)
	}
}

// failingRepo fails selected archive writes.
type failingRepo struct {
	store.Repository
	failDelete bool
	failClose  bool
}

var errWrite = errors.New("disk full")

func (r *failingRepo) DeleteSpecialsAbsent(ctx context.Context, storeName string, keep []string) (int64, error) {
	if r.failDelete {
		return 0, &store.PersistenceError{Op: "delete absent specials", Err: errWrite}
	}
	return r.Repository.DeleteSpecialsAbsent(ctx, storeName, keep)
}

func (r *failingRepo) CloseWindows(ctx context.Context, windows []store.HistoryWindow) error {
	if r.failClose {
		return &store.PersistenceError{Op: "close windows", Err: errWrite}
	}
	return r.Repository.CloseWindows(ctx, windows)
}

func TestArchiveWriteFailureHeals(t *testing.T) {
	// WHAT: A failed archive write leaves one closed window per occurrence once a clean run follows.
	// WHY: A half-applied archive must not expire the same occurrence twice.
	cases := []struct {
		name string
		repo func(store.Repository) *failingRepo
	}{
		{"delete fails", func(r store.Repository) *failingRepo { return &failingRepo{Repository: r, failDelete: true} }},
		{"close fails", func(r store.Repository) *failingRepo { return &failingRepo{Repository: r, failClose: true} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.run(t, "coles", []store.Product{prod("coles", "A", 2)}, true)
			first := store.Day(f.day)

			f.day = f.day.AddDate(0, 0, 1)
			f.rec.repo = tc.repo(f.repo)
			_, err := f.rec.Reconcile(ctx, "coles", nil, true)
			if !errors.Is(err, errWrite) {
				t.Fatalf("reconcile err = %v, want write failure", err)
			}

			f.day = f.day.AddDate(0, 0, 1)
			f.rec.repo = f.repo
			f.run(t, "coles", nil, true)

			active, _ := f.repo.ListSpecials(ctx, "coles")
			if len(active) != 0 {
				t.Errorf("active: %d, want 0", len(active))
			}
			h, _ := f.repo.KeyHistory(ctx, store.Key{Store: "coles", ProductID: "A"})
			if len(h) != 1 {
				t.Fatalf("windows: %d, want 1: %+v", len(h), h)
			}
			if !h[0].Closed || !h[0].FirstSeen.Equal(first) {
				t.Errorf("window: %+v", h[0])
			}
		})
	}
}
