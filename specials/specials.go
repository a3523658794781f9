// Package specials tracks which products are discounted at each store,
// keeps their discount history and derives how often they go on special.
//
// A Service runs one of three modes, each restricted to a subset of the
// configured stores:
//
//	CollectSpecials   walk the specials listings, reconcile, record history
//	CollectCatalogue  walk the full catalogue and refresh the price baseline
//	RecomputeIntel    rebuild every intel record from persisted state
//
// Stores and categories are always walked one at a time.
package specials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hazyhaar/bravo/dbopen"
	"github.com/hazyhaar/bravo/idgen"
	"github.com/hazyhaar/bravo/specials/internal/browser"
	"github.com/hazyhaar/bravo/specials/internal/catalogue"
	"github.com/hazyhaar/bravo/specials/internal/collect"
	"github.com/hazyhaar/bravo/specials/internal/intel"
	"github.com/hazyhaar/bravo/specials/internal/pgstore"
	"github.com/hazyhaar/bravo/specials/internal/reconcile"
	"github.com/hazyhaar/bravo/specials/internal/source"
	"github.com/hazyhaar/bravo/specials/internal/source/coles"
	"github.com/hazyhaar/bravo/specials/internal/source/woolworths"
	"github.com/hazyhaar/bravo/specials/internal/store"
)

// KnownStores lists the stores an adapter exists for.
var KnownStores = []string{coles.StoreName, woolworths.StoreName}

// Run modes.
const (
	ModeSpecials  = "specials"
	ModeCatalogue = "catalogue"
	ModeIntel     = "intel"
)

// AdapterFactory builds the adapter of one configured store.
type AdapterFactory func(sc StoreConfig) (source.Adapter, error)

// Service is the bravo orchestrator.
type Service struct {
	cfg        *Config
	repo       store.Repository
	closeRepo  func() error
	logger     *slog.Logger
	collectCfg collect.Config
	collector  *collect.Collector
	reconciler *reconcile.Reconciler
	recorder   *reconcile.Recorder
	engine     *intel.Engine
	syncer     *catalogue.Syncer
	newAdapter AdapterFactory
	newID      idgen.Generator

	browserOnce sync.Once
	browser     *browser.Manager
}

// Option configures a Service.
type Option func(*Service)

// WithAdapterFactory replaces the built-in store adapters.
func WithAdapterFactory(f AdapterFactory) Option {
	return func(s *Service) { s.newAdapter = f }
}

// WithIDGenerator sets the run ID generator. Default: prefixed UUIDv7.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Service) { s.newID = gen }
}

// WithSleep replaces the collector's wait function.
func WithSleep(fn collect.SleepFunc) Option {
	return func(s *Service) { s.collectCfg.Sleep = fn }
}

// Open connects the configured database and builds a Service over it.
func Open(ctx context.Context, cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		repo      store.Repository
		closeRepo func() error
	)
	switch cfg.Database.Driver {
	case DriverPostgres:
		pg, err := pgstore.Open(ctx, cfg.Database.DSN, cfg.Database.MaxConns, cfg.Database.ViaBouncer)
		if err != nil {
			return nil, fmt.Errorf("specials: %w", err)
		}
		repo, closeRepo = pg, func() error { pg.Close(); return nil }
	default:
		db, err := dbopen.Open(cfg.Database.Path, dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema))
		if err != nil {
			return nil, fmt.Errorf("specials: %w", err)
		}
		repo, closeRepo = store.NewStore(db), db.Close
	}

	svc, err := New(repo, cfg, logger, opts...)
	if err != nil {
		closeRepo()
		return nil, err
	}
	svc.closeRepo = closeRepo
	return svc, nil
}

// New builds a Service over an already opened repository. The caller keeps
// ownership of repo.
func New(repo store.Repository, cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	policy, err := cfg.Collect.Policy()
	if err != nil {
		return nil, fmt.Errorf("specials: %w: %v", ErrInvalidConfig, err)
	}

	svc := &Service{
		cfg:        cfg,
		repo:       repo,
		logger:     logger,
		reconciler: reconcile.NewReconciler(repo, logger),
		recorder:   reconcile.NewRecorder(repo, logger),
		engine:     intel.NewEngine(repo, logger),
		syncer:     catalogue.NewSyncer(repo, logger),
		newID:      idgen.Prefixed("run_", idgen.Default),
		collectCfg: collect.Config{
			Policy:      policy,
			MaxPages:    cfg.Collect.MaxPages,
			MaxFailures: cfg.Collect.MaxFailures,
			Logger:      logger,
		},
	}
	svc.newAdapter = svc.defaultAdapter

	for _, opt := range opts {
		opt(svc)
	}
	svc.collector = collect.New(svc.collectCfg)
	return svc, nil
}

// Repository exposes the persistence backend to the HTTP API.
func (s *Service) Repository() store.Repository { return s.repo }

// Close releases the browser and, when Open created it, the database.
func (s *Service) Close() error {
	var errs []error
	if s.browser != nil {
		errs = append(errs, s.browser.Close())
	}
	if s.closeRepo != nil {
		errs = append(errs, s.closeRepo())
	}
	return errors.Join(errs...)
}

// Stores returns the names of the enabled stores, restricted to only when
// it is non-empty. Unknown names are rejected.
func (s *Service) Stores(only []string) ([]string, error) {
	for _, name := range only {
		if !slices.Contains(KnownStores, name) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStore, name)
		}
	}
	var out []string
	for _, sc := range s.cfg.Stores {
		if !sc.IsEnabled() {
			continue
		}
		if len(only) > 0 && !slices.Contains(only, sc.Name) {
			continue
		}
		out = append(out, sc.Name)
	}
	if len(out) == 0 {
		return nil, ErrNoStores
	}
	return out, nil
}

// CollectSpecials walks the specials listings of the selected stores,
// reconciles each store, records history for every product seen and, when
// configured, recomputes intel.
func (s *Service) CollectSpecials(ctx context.Context, only []string) (*Report, error) {
	names, err := s.Stores(only)
	if err != nil {
		return nil, err
	}
	adapters, err := s.adapters(names)
	if err != nil {
		return nil, err
	}
	rep := newReport(s.newID(), ModeSpecials)
	log := s.logger.With("run_id", rep.RunID, "mode", ModeSpecials)
	log.Info("specials: run started", "stores", names)

	results := s.collector.Run(ctx, adapters, source.ScopeSpecials)

	var combined []store.Product
	for _, res := range results {
		sr := rep.addStore(res)
		s.recordRuns(ctx, rep, res)
		combined = append(combined, res.Products...)

		if len(res.Products) == 0 {
			// An empty listing is never trusted to expire every special.
			if res.Complete() {
				sr.warn("no products collected, archive skipped")
			}
			continue
		}
		rr, err := s.reconciler.Reconcile(ctx, res.Store, res.Products, res.Complete())
		if err != nil {
			sr.fail(err)
			log.Error("specials: reconcile failed", "store", res.Store, "error", err)
			continue
		}
		sr.Expired = rr.Expired
		if !rr.Archived {
			sr.warn("collection incomplete, archive skipped")
		}
	}

	if len(combined) > 0 {
		if _, err := s.recorder.Record(ctx, combined); err != nil {
			rep.fail(fmt.Errorf("record history: %w", err))
			log.Error("specials: history failed", "error", err)
		}
	}

	s.maybeIntel(ctx, rep, names)
	rep.finish(log)
	return rep, nil
}

// CollectCatalogue walks the catalogue listings and refreshes the price
// baseline of every product seen.
func (s *Service) CollectCatalogue(ctx context.Context, only []string) (*Report, error) {
	names, err := s.Stores(only)
	if err != nil {
		return nil, err
	}
	adapters, err := s.adapters(names)
	if err != nil {
		return nil, err
	}
	rep := newReport(s.newID(), ModeCatalogue)
	log := s.logger.With("run_id", rep.RunID, "mode", ModeCatalogue)
	log.Info("specials: run started", "stores", names)

	results := s.collector.Run(ctx, adapters, source.ScopeCatalogue)

	var all []store.Product
	for _, res := range results {
		rep.addStore(res)
		s.recordRuns(ctx, rep, res)
		all = append(all, res.Products...)
	}
	synced, err := s.syncer.Sync(ctx, all)
	for _, sr := range synced {
		if sr.Err != nil {
			rep.store(sr.Store).fail(sr.Err)
		}
	}
	if err != nil {
		log.Error("specials: catalogue sync failed", "error", err)
	}

	s.maybeIntel(ctx, rep, names)
	rep.finish(log)
	return rep, nil
}

// RecomputeIntel rebuilds the intel records of the selected stores.
func (s *Service) RecomputeIntel(ctx context.Context, only []string) (*Report, error) {
	names, err := s.Stores(only)
	if err != nil {
		return nil, err
	}
	rep := newReport(s.newID(), ModeIntel)
	log := s.logger.With("run_id", rep.RunID, "mode", ModeIntel)
	s.runIntel(ctx, rep, names)
	rep.finish(log)
	return rep, nil
}

func (s *Service) maybeIntel(ctx context.Context, rep *Report, names []string) {
	if s.cfg.Collect.RecomputeIntel != nil && !*s.cfg.Collect.RecomputeIntel {
		return
	}
	s.runIntel(ctx, rep, names)
}

func (s *Service) runIntel(ctx context.Context, rep *Report, names []string) {
	for _, name := range names {
		sr := rep.store(name)
		res, err := s.engine.Pass(ctx, name)
		if err != nil {
			sr.fail(err)
			s.logger.Error("specials: intel failed", "store", name, "error", err)
			continue
		}
		sr.Intel = res.Records
	}
}

// recordRuns writes one run-log row per category. A failing write is logged
// and never fails the run.
func (s *Service) recordRuns(ctx context.Context, rep *Report, res *collect.StoreResult) {
	for _, c := range res.Categories {
		row := &store.RunRecord{
			ID:         s.newID(),
			RunID:      rep.RunID,
			Mode:       rep.Mode,
			Store:      res.Store,
			Category:   c.Category.Name,
			Status:     string(c.Status),
			Pages:      c.Pages,
			Products:   len(c.Products),
			Total:      c.Total,
			StartedAt:  c.StartedAt.UnixMilli(),
			FinishedAt: c.FinishedAt.UnixMilli(),
		}
		if c.Err != nil {
			row.Error = c.Err.Error()
		}
		if c.StartedAt.IsZero() {
			row.StartedAt, row.FinishedAt = 0, 0
		}
		if err := s.repo.RecordRun(ctx, row); err != nil {
			s.logger.Warn("specials: run log write failed", "store", res.Store, "category", c.Category.Name, "error", err)
		}
	}
}

func (s *Service) adapters(names []string) ([]source.Adapter, error) {
	out := make([]source.Adapter, 0, len(names))
	for _, name := range names {
		idx := slices.IndexFunc(s.cfg.Stores, func(sc StoreConfig) bool { return sc.Name == name })
		a, err := s.newAdapter(s.cfg.Stores[idx])
		if err != nil {
			return nil, fmt.Errorf("specials: adapter %s: %w", name, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Service) defaultAdapter(sc StoreConfig) (source.Adapter, error) {
	var tr source.Transport
	switch sc.Transport {
	case TransportBrowser:
		tr = source.NewSessionTransport(s.browserManager(), sc.UserAgent, s.logger.With("store", sc.Name))
	default:
		tr = source.NewHTTPTransport(source.HTTPConfig{
			Timeout:   s.cfg.Collect.FetchTimeout,
			UserAgent: sc.UserAgent,
			Logger:    s.logger.With("store", sc.Name),
		})
	}
	switch sc.Name {
	case coles.StoreName:
		return coles.New(tr, coles.Config{BaseURL: sc.BaseURL}), nil
	case woolworths.StoreName:
		return woolworths.New(tr, woolworths.Config{BaseURL: sc.BaseURL}), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStore, sc.Name)
}

func (s *Service) browserManager() *browser.Manager {
	s.browserOnce.Do(func() {
		bc := s.cfg.Browser
		s.browser = browser.NewManager(browser.Config{
			RemoteURL:        bc.Remote,
			Headless:         bc.Headless == nil || *bc.Headless,
			XvfbDisplay:      bc.XvfbDisplay,
			ResourceBlocking: bc.ResourceBlocking,
			NavigateTimeout:  bc.NavigateTimeout,
			Settle:           bc.Settle,
			Logger:           s.logger,
		})
	})
	return s.browser
}
