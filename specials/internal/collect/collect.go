// Package collect drives source adapters page by page into a deduplicated
// product set. Stores and categories are walked strictly one at a time with
// randomised pacing, bounded retries on failures and a single cooldown on
// blocks.
package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hazyhaar/bravo/specials/internal/pacing"
	"github.com/hazyhaar/bravo/specials/internal/source"
)

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config configures a Collector.
type Config struct {
	Policy      pacing.Policy
	MaxPages    int // per category. Default: 200.
	MaxFailures int // consecutive failures before a category aborts. Default: 3.
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Sleep       SleepFunc // Default: a context-aware timer.
	Now         func() time.Time
}

func (c *Config) defaults() {
	if c.MaxPages <= 0 {
		c.MaxPages = 200
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer("github.com/hazyhaar/bravo/specials/internal/collect")
	}
	if c.Sleep == nil {
		c.Sleep = sleepCtx
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Collector walks adapters. It holds no per-run state; a Collector may be
// reused across runs.
type Collector struct {
	cfg Config
}

func New(cfg Config) *Collector {
	cfg.defaults()
	return &Collector{cfg: cfg}
}

// Run collects every adapter in order, pausing between stores. A failing
// store never prevents the next one from running.
func (c *Collector) Run(ctx context.Context, adapters []source.Adapter, scope source.Scope) []*StoreResult {
	out := make([]*StoreResult, 0, len(adapters))
	for i, a := range adapters {
		if i > 0 {
			if err := c.pause(ctx, "store", c.cfg.Policy.Store()); err != nil {
				for _, rest := range adapters[i:] {
					out = append(out, &StoreResult{Store: rest.Store(), Scope: scope, Err: err})
				}
				break
			}
		}
		out = append(out, c.CollectStore(ctx, a, scope))
	}
	return out
}

// CollectStore opens a session and walks every category of scope. The
// adapter is closed before returning.
func (c *Collector) CollectStore(ctx context.Context, a source.Adapter, scope source.Scope) *StoreResult {
	log := c.cfg.Logger.With("store", a.Store(), "scope", scope)
	ctx, span := c.cfg.Tracer.Start(ctx, "collect.store", trace.WithAttributes(
		attribute.String("store", a.Store()),
		attribute.String("scope", string(scope)),
	))
	defer span.End()

	res := &StoreResult{Store: a.Store(), Scope: scope}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("collect: close adapter", "error", err)
		}
	}()

	if err := c.open(ctx, a, log); err != nil {
		if errors.Is(err, source.ErrBlocked) {
			res.Blocked = true
		}
		res.Err = err
		log.Error("collect: session failed", "error", err)
		span.SetStatus(codes.Error, err.Error())
		return res
	}

	seen := make(map[string]struct{})
	cats := a.Categories(scope)
	for i, cat := range cats {
		if i > 0 {
			if err := c.pause(ctx, "category", c.cfg.Policy.Category(scope == source.ScopeCatalogue)); err != nil {
				res.Err = err
				break
			}
		}
		cr := c.collectCategory(ctx, a, cat, log)
		res.merge(cr, seen)

		if cr.Status == StatusBlocked {
			res.Blocked = true
			for _, rest := range cats[i+1:] {
				res.Categories = append(res.Categories, CategoryResult{Category: rest, Status: StatusSkipped})
			}
			log.Error("collect: store aborted after repeated block", "category", cat.Name,
				"skipped", len(cats)-i-1)
			break
		}
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			break
		}
	}

	span.SetAttributes(attribute.Int("products", len(res.Products)), attribute.Bool("complete", res.Complete()))
	if res.Blocked {
		span.SetStatus(codes.Error, "blocked")
	}
	log.Info("collect: store done", "products", len(res.Products), "complete", res.Complete())
	return res
}

// open establishes the session with the same policy as a page: one
// cooldown on block, bounded backoff on failures.
func (c *Collector) open(ctx context.Context, a source.Adapter, log *slog.Logger) error {
	failures := 0
	blockedOnce := false
	for {
		err := a.Open(ctx)
		switch source.OutcomeOf(err) {
		case source.OutcomeOK:
			return nil
		case source.OutcomeBlocked:
			if blockedOnce {
				return err
			}
			blockedOnce = true
			log.Warn("collect: blocked on session open, cooling down", "cooldown", c.cfg.Policy.BlockCooldown)
			if err := c.cfg.Sleep(ctx, c.cfg.Policy.BlockCooldown); err != nil {
				return err
			}
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures >= c.cfg.MaxFailures {
				return fmt.Errorf("open session after %d attempts: %w", failures, err)
			}
			if err := c.cfg.Sleep(ctx, c.cfg.Policy.Backoff(failures)); err != nil {
				return err
			}
		}
	}
}

func (c *Collector) collectCategory(ctx context.Context, a source.Adapter, cat source.Category, log *slog.Logger) CategoryResult {
	log = log.With("category", cat.Name)
	ctx, span := c.cfg.Tracer.Start(ctx, "collect.category", trace.WithAttributes(
		attribute.String("category", cat.Name),
	))
	defer span.End()

	res := CategoryResult{Category: cat, StartedAt: c.cfg.Now()}
	defer func() {
		res.FinishedAt = c.cfg.Now()
		span.SetAttributes(
			attribute.String("status", string(res.Status)),
			attribute.Int("pages", res.Pages),
			attribute.Int("products", len(res.Products)),
		)
		if res.Err != nil {
			span.SetStatus(codes.Error, res.Err.Error())
		}
	}()

	// seen is scoped to this walk only.
	seen := make(map[string]struct{})
	failures := 0
	blockedOnce := false

	for page := 1; ; {
		if page > c.cfg.MaxPages {
			res.Status = StatusCapped
			log.Warn("collect: page cap reached", "max_pages", c.cfg.MaxPages,
				"unique", len(seen), "total", res.Total)
			return res
		}

		pg, err := c.fetch(ctx, a, cat, page)
		if ctx.Err() != nil {
			res.Status, res.Err = StatusAborted, ctx.Err()
			return res
		}

		switch source.OutcomeOf(err) {
		case source.OutcomeBlocked:
			if blockedOnce {
				res.Status, res.Err = StatusBlocked, err
				log.Error("collect: blocked again after cooldown", "page", page, "error", err)
				return res
			}
			blockedOnce = true
			log.Warn("collect: blocked, cooling down", "page", page,
				"cooldown", c.cfg.Policy.BlockCooldown, "error", err)
			if err := c.cfg.Sleep(ctx, c.cfg.Policy.BlockCooldown); err != nil {
				res.Status, res.Err = StatusAborted, err
				return res
			}
			continue

		case source.OutcomeFailure:
			failures++
			if failures >= c.cfg.MaxFailures {
				res.Status, res.Err = StatusAborted, err
				log.Warn("collect: category aborted", "page", page, "failures", failures,
					"kept", len(res.Products), "error", err)
				return res
			}
			backoff := c.cfg.Policy.Backoff(failures)
			log.Warn("collect: page failed, backing off", "page", page, "failures", failures,
				"kind", source.KindOf(err).String(), "backoff", backoff, "error", err)
			if err := c.cfg.Sleep(ctx, backoff); err != nil {
				res.Status, res.Err = StatusAborted, err
				return res
			}
			continue
		}

		failures, blockedOnce = 0, false
		res.Pages++
		res.Total = pg.Total

		fresh := 0
		for _, p := range pg.Products {
			if _, dup := seen[p.ProductID]; dup {
				continue
			}
			seen[p.ProductID] = struct{}{}
			res.Products = append(res.Products, p)
			fresh++
		}
		log.Info("collect: page fetched", "page", page, "new", fresh,
			"unique", len(seen), "total", pg.Total)

		if len(seen) >= pg.Total || fresh == 0 {
			res.Status = StatusComplete
			return res
		}

		page++
		if page > c.cfg.MaxPages {
			continue
		}
		d, brk := c.cfg.Policy.BetweenPages(res.Pages)
		if brk {
			log.Info("collect: session break", "pause", d)
		} else {
			log.Debug("collect: page delay", "pause", d)
		}
		if err := c.cfg.Sleep(ctx, d); err != nil {
			res.Status, res.Err = StatusAborted, err
			return res
		}
	}
}

func (c *Collector) fetch(ctx context.Context, a source.Adapter, cat source.Category, page int) (*source.Page, error) {
	ctx, span := c.cfg.Tracer.Start(ctx, "collect.page", trace.WithAttributes(attribute.Int("page", page)))
	defer span.End()
	pg, err := a.FetchPage(ctx, cat, page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	if pg == nil {
		return nil, fmt.Errorf("page %d: %w", page, source.Parse(errors.New("nil page")))
	}
	span.SetAttributes(attribute.Int("products", len(pg.Products)), attribute.Int("total", pg.Total))
	return pg, nil
}

func (c *Collector) pause(ctx context.Context, what string, d time.Duration) error {
	if d > 0 {
		c.cfg.Logger.Info("collect: pause", "between", what, "pause", d)
	}
	return c.cfg.Sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
