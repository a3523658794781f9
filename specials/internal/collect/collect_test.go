package collect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hazyhaar/bravo/specials/internal/pacing"
	"github.com/hazyhaar/bravo/specials/internal/source"
	"github.com/hazyhaar/bravo/specials/internal/store"
)

// step is one scripted FetchPage answer.
type step struct {
	ids   []string
	total int
	err   error
}

// fakeAdapter replays scripted answers per category, in call order.
type fakeAdapter struct {
	name    string
	cats    []source.Category
	script  map[string][]step
	calls   map[string][]int // pages requested per category
	openErr []error
	closed  bool
}

func newFake(name string, cats ...string) *fakeAdapter {
	f := &fakeAdapter{name: name, script: map[string][]step{}, calls: map[string][]int{}}
	for _, c := range cats {
		f.cats = append(f.cats, source.Category{ID: c, Name: c})
	}
	return f
}

func (f *fakeAdapter) Store() string { return f.name }
func (f *fakeAdapter) Categories(source.Scope) []source.Category { return f.cats }
func (f *fakeAdapter) Close() error { f.closed = true; return nil }

func (f *fakeAdapter) Open(context.Context) error {
	if len(f.openErr) == 0 {
		return nil
	}
	err := f.openErr[0]
	f.openErr = f.openErr[1:]
	return err
}

func (f *fakeAdapter) FetchPage(_ context.Context, cat source.Category, page int) (*source.Page, error) {
	f.calls[cat.ID] = append(f.calls[cat.ID], page)
	steps := f.script[cat.ID]
	if len(steps) == 0 {
		return nil, source.Transient(errors.New("script exhausted"))
	}
	s := steps[0]
	f.script[cat.ID] = steps[1:]
	if s.err != nil {
		return nil, s.err
	}
	pg := &source.Page{Total: s.total}
	for _, id := range s.ids {
		pg.Products = append(pg.Products, store.Product{Store: f.name, ProductID: id, Name: "p" + id, CurrentPrice: 1})
	}
	return pg, nil
}

// sleepRecorder records every requested wait instead of sleeping.
type sleepRecorder struct{ waits []time.Duration }

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func testPolicy() pacing.Policy {
	return pacing.Policy{
		PageDelay:     pacing.Fixed(time.Second),
		SessionBreak:  pacing.Fixed(time.Hour),
		SessionEvery:  10,
		CategoryPause: pacing.Fixed(2 * time.Second),
		StorePause:    pacing.Fixed(3 * time.Second),
		BlockCooldown: 10 * time.Minute,
		BaseBackoff:   5 * time.Second,
	}
}

func newTestCollector(rec *sleepRecorder) *Collector {
	return New(Config{
		Policy: testPolicy(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sleep:  rec.sleep,
	})
}

func ids(ps []store.Product) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ProductID
	}
	return out
}

func TestDedupAndZeroNewStop(t *testing.T) {
	// WHAT: An overlapping identity counts once; a page with nothing new stops the walk.
	// WHY: Upstream repeats the final page instead of returning an empty one.
	f := newFake("coles", "c")
	f.script["c"] = []step{
		{ids: []string{"1", "2"}, total: 10},
		{ids: []string{"2", "3"}, total: 10},
		{ids: []string{"2", "3"}, total: 10},
	}
	rec := &sleepRecorder{}
	res := newTestCollector(rec).CollectStore(context.Background(), f, source.ScopeSpecials)

	cr := res.Categories[0]
	if cr.Status != StatusComplete || cr.Pages != 3 {
		t.Fatalf("status %s pages %d", cr.Status, cr.Pages)
	}
	if got := fmt.Sprint(ids(cr.Products)); got != "[1 2 3]" {
		t.Errorf("products: %s", got)
	}
	if len(f.calls["c"]) != 3 {
		t.Errorf("calls: %v", f.calls["c"])
	}
	if !res.Complete() || !f.closed {
		t.Errorf("complete=%v closed=%v", res.Complete(), f.closed)
	}
}

func TestStopAtTotal(t *testing.T) {
	// WHAT: The walk stops once unique products reach the reported total.
	// WHY: Requesting past the end wastes a paced request.
	f := newFake("coles", "c")
	f.script["c"] = []step{
		{ids: []string{"1", "2"}, total: 3},
		{ids: []string{"3"}, total: 3},
	}
	rec := &sleepRecorder{}
	res := newTestCollector(rec).CollectStore(context.Background(), f, source.ScopeSpecials)
	if fmt.Sprint(f.calls["c"]) != "[1 2]" {
		t.Errorf("pages requested: %v", f.calls["c"])
	}
	if fmt.Sprint(rec.waits) != "[1s]" {
		t.Errorf("waits: %v", rec.waits)
	}
	if !res.Complete() {
		t.Error("should be complete")
	}
}

func TestEmptyListing(t *testing.T) {
	// WHAT: Total 0 with no products completes after one page.
	f := newFake("coles", "c")
	f.script["c"] = []step{{total: 0}}
	res := newTestCollector(&sleepRecorder{}).CollectStore(context.Background(), f, source.ScopeSpecials)
	if res.Categories[0].Status != StatusComplete || len(res.Products) != 0 {
		t.Errorf("got %+v", res.Categories[0])
	}
}

func TestTransientBackoffThenSuccess(t *testing.T) {
	// WHAT: Failures back off base×count and the counter resets on success.
	// WHY: Escalating backoff without a reset would punish later pages.
	f := newFake("coles", "c")
	f.script["c"] = []step{
		{err: source.Transient(errors.New("timeout"))},
		{err: source.Parse(errors.New("no data"))},
		{ids: []string{"1"}, total: 3},
		{err: source.Transient(errors.New("reset"))},
		{ids: []string{"2", "3"}, total: 3},
	}
	rec := &sleepRecorder{}
	res := newTestCollector(rec).CollectStore(context.Background(), f, source.ScopeSpecials)

	want := "[5s 10s 1s 5s]"
	if got := fmt.Sprint(rec.waits); got != want {
		t.Errorf("waits: got %s, want %s", got, want)
	}
	if fmt.Sprint(f.calls["c"]) != "[1 1 1 2 2]" {
		t.Errorf("calls: %v", f.calls["c"])
	}
	if !res.Complete() || len(res.Products) != 3 {
		t.Errorf("result: complete=%v products=%d", res.Complete(), len(res.Products))
	}
}

func TestAbortAfterThreeFailuresKeepsPartial(t *testing.T) {
	// WHAT: Three consecutive failures abort only that category; its earlier products are kept
	// and the next category still runs.
	// WHY: Failures are isolated to their unit.
	f := newFake("woolworths", "a", "b")
	f.script["a"] = []step{
		{ids: []string{"1", "2"}, total: 6},
		{err: source.Transient(errors.New("503"))},
		{err: source.Transient(errors.New("503"))},
		{err: source.Transient(errors.New("503"))},
	}
	f.script["b"] = []step{{ids: []string{"2", "9"}, total: 2}}
	rec := &sleepRecorder{}
	res := newTestCollector(rec).CollectStore(context.Background(), f, source.ScopeSpecials)

	if res.Categories[0].Status != StatusAborted || len(res.Categories[0].Products) != 2 {
		t.Errorf("category a: %+v", res.Categories[0])
	}
	if res.Categories[1].Status != StatusComplete {
		t.Errorf("category b: %s", res.Categories[1].Status)
	}
	if got := fmt.Sprint(ids(res.Products)); got != "[1 2 9]" {
		t.Errorf("store products: %s", got)
	}
	if res.Complete() {
		t.Error("store with an aborted category is not complete")
	}
	if res.Blocked || res.Err != nil {
		t.Errorf("an aborted category must not fail the store: blocked=%v err=%v", res.Blocked, res.Err)
	}
	// page delay, backoff 5s, 10s, then category pause.
	if got := fmt.Sprint(rec.waits); got != "[1s 5s 10s 2s]" {
		t.Errorf("waits: %s", got)
	}
}

func TestCategoryPauseFollowsScope(t *testing.T) {
	// WHAT: Catalogue runs rest with the catalogue pause between categories, specials runs with the category pause.
	// WHY: A full catalogue category is a long walk and needs a longer rest before the next.
	for _, tc := range []struct {
		scope source.Scope
		want  string
	}{
		{source.ScopeSpecials, "[2s]"},
		{source.ScopeCatalogue, "[4s]"},
	} {
		f := newFake("coles", "a", "b")
		f.script["a"] = []step{{ids: []string{"1"}, total: 1}}
		f.script["b"] = []step{{ids: []string{"2"}, total: 1}}
		rec := &sleepRecorder{}
		p := testPolicy()
		p.CataloguePause = pacing.Fixed(4 * time.Second)
		c := New(Config{Policy: p, Logger: slog.New(slog.NewTextHandler(io.Discard, nil)), Sleep: rec.sleep})

		res := c.CollectStore(context.Background(), f, tc.scope)
		if !res.Complete() {
			t.Errorf("%s: not complete", tc.scope)
		}
		if got := fmt.Sprint(rec.waits); got != tc.want {
			t.Errorf("%s waits: got %s, want %s", tc.scope, got, tc.want)
		}
	}
}

func TestBlockCooldownThenSuccess(t *testing.T) {
	// WHAT: One block triggers the long cooldown and a retry of the same page.
	// WHY: Short-lived challenges clear after a pause.
	f := newFake("coles", "c")
	f.script["c"] = []step{
		{err: source.ErrBlocked},
		{ids: []string{"1"}, total: 1},
	}
	rec := &sleepRecorder{}
	res := newTestCollector(rec).CollectStore(context.Background(), f, source.ScopeSpecials)
	if fmt.Sprint(f.calls["c"]) != "[1 1]" {
		t.Errorf("calls: %v", f.calls["c"])
	}
	if fmt.Sprint(rec.waits) != "[10m0s]" {
		t.Errorf("waits: %v", rec.waits)
	}
	if !res.Complete() {
		t.Error("should be complete")
	}
}

func TestRepeatedBlockAbortsStoreOnly(t *testing.T) {
	// WHAT: Block, cooldown, block again aborts the store and skips its remaining
	// categories; the next store runs normally.
	// WHY: A persistent block is not retryable within the run, but must not spread.
	blocked := newFake("woolworths", "a", "b", "c")
	blocked.script["a"] = []step{
		{ids: []string{"1"}, total: 5},
		{err: source.ErrBlocked},
		{err: fmt.Errorf("challenge: %w", source.ErrBlocked)},
	}
	healthy := newFake("coles", "x")
	healthy.script["x"] = []step{{ids: []string{"7", "8"}, total: 2}}

	rec := &sleepRecorder{}
	results := newTestCollector(rec).Run(context.Background(), []source.Adapter{blocked, healthy}, source.ScopeSpecials)

	w := results[0]
	if !w.Blocked || w.Complete() {
		t.Fatalf("blocked store: blocked=%v complete=%v", w.Blocked, w.Complete())
	}
	if len(w.Categories) != 3 || w.Categories[0].Status != StatusBlocked ||
		w.Categories[1].Status != StatusSkipped || w.Categories[2].Status != StatusSkipped {
		t.Errorf("categories: %+v", w.Categories)
	}
	if len(blocked.calls["b"]) != 0 || len(blocked.calls["c"]) != 0 {
		t.Error("skipped categories were fetched")
	}
	if fmt.Sprint(ids(w.Products)) != "[1]" {
		t.Errorf("partial products lost: %v", ids(w.Products))
	}

	c := results[1]
	if !c.Complete() || len(c.Products) != 2 {
		t.Errorf("healthy store affected: %+v", c)
	}
	// page delay, cooldown, store pause.
	if got := fmt.Sprint(rec.waits); got != "[1s 10m0s 3s]" {
		t.Errorf("waits: %s", got)
	}
}

func TestBlockResetBySuccess(t *testing.T) {
	// WHAT: A block on a later page after a successful retry gets its own cooldown.
	// WHY: Only a block directly following the cooldown is terminal.
	f := newFake("coles", "c")
	f.script["c"] = []step{
		{err: source.ErrBlocked},
		{ids: []string{"1"}, total: 2},
		{err: source.ErrBlocked},
		{ids: []string{"2"}, total: 2},
	}
	rec := &sleepRecorder{}
	res := newTestCollector(rec).CollectStore(context.Background(), f, source.ScopeSpecials)
	if !res.Complete() {
		t.Errorf("status: %s", res.Categories[0].Status)
	}
}

func TestSessionBreakEveryTenPages(t *testing.T) {
	// WHAT: After every 10th page the session break replaces the page delay.
	// WHY: Long walks need periodic long pauses.
	f := newFake("coles", "c")
	for i := 1; i <= 21; i++ {
		f.script["c"] = append(f.script["c"], step{ids: []string{fmt.Sprint(i)}, total: 21})
	}
	rec := &sleepRecorder{}
	res := newTestCollector(rec).CollectStore(context.Background(), f, source.ScopeSpecials)
	if !res.Complete() || len(res.Products) != 21 {
		t.Fatalf("complete=%v products=%d", res.Complete(), len(res.Products))
	}
	if len(rec.waits) != 20 {
		t.Fatalf("waits: %d", len(rec.waits))
	}
	for i, d := range rec.waits {
		want := time.Second
		if (i+1)%10 == 0 {
			want = time.Hour
		}
		if d != want {
			t.Errorf("wait after page %d: got %v, want %v", i+1, d, want)
		}
	}
}

func TestPageCap(t *testing.T) {
	// WHAT: Hitting MaxPages marks the category capped, not complete.
	// WHY: A capped walk has not seen every special and must not expire the rest.
	f := newFake("coles", "c")
	f.script["c"] = []step{
		{ids: []string{"1"}, total: 100},
		{ids: []string{"2"}, total: 100},
		{ids: []string{"3"}, total: 100},
	}
	rec := &sleepRecorder{}
	c := New(Config{Policy: pacing.Zero(), MaxPages: 2, Sleep: rec.sleep,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	res := c.CollectStore(context.Background(), f, source.ScopeSpecials)
	if res.Categories[0].Status != StatusCapped || len(f.calls["c"]) != 2 {
		t.Errorf("status %s calls %v", res.Categories[0].Status, f.calls["c"])
	}
	if res.Complete() {
		t.Error("capped store should not be complete")
	}
}

func TestOpenBlockedTwice(t *testing.T) {
	// WHAT: A session blocked twice yields a blocked store with no page fetches.
	f := newFake("woolworths", "a")
	f.openErr = []error{source.ErrBlocked, source.ErrBlocked}
	rec := &sleepRecorder{}
	res := newTestCollector(rec).CollectStore(context.Background(), f, source.ScopeSpecials)
	if !res.Blocked || res.Err == nil || len(f.calls["a"]) != 0 {
		t.Errorf("result: %+v calls %v", res, f.calls)
	}
	if !f.closed {
		t.Error("adapter not closed")
	}
}

func TestCancelledContext(t *testing.T) {
	// WHAT: A cancelled context aborts the category with the context error.
	f := newFake("coles", "c")
	f.script["c"] = []step{{ids: []string{"1"}, total: 5}, {ids: []string{"2"}, total: 5}}
	ctx, cancel := context.WithCancel(context.Background())
	rec := &sleepRecorder{}
	c := New(Config{Policy: testPolicy(), Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return rec.sleep(ctx, d)
		}})
	res := c.CollectStore(ctx, f, source.ScopeSpecials)
	if !errors.Is(res.Categories[0].Err, context.Canceled) || res.Complete() {
		t.Errorf("result: %+v", res.Categories[0])
	}
}
