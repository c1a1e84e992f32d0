package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tenonworks/tenon/internal/bus"
	"github.com/tenonworks/tenon/internal/config"
	"github.com/tenonworks/tenon/internal/coordinator"
	"github.com/tenonworks/tenon/internal/printer"
	"github.com/tenonworks/tenon/internal/rules"
	"github.com/tenonworks/tenon/internal/worker"
	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// session bundles the wired-up runtime behind a CLI command: the drawing
// board, a running bus, and a coordinator with the configured workers.
type session struct {
	cfg         *config.TenonConfig
	store       *drawingboard.Store
	bus         *bus.Bus
	coordinator *coordinator.Coordinator
	cancel      context.CancelFunc
}

// openSession connects to Redis and wires the full coordination stack from
// configuration. Callers must Close it.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := drawingboard.NewStore(storeOptions(cfg))
	if err != nil {
		return nil, err
	}

	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, printer.Error(
			"Cannot reach Redis",
			fmt.Sprintf("No Redis instance answered at %s.", cfg.Redis.Addr),
			[]string{
				"Start one locally: docker run -d -p 6379:6379 redis:7-alpine",
				"Point tenon at an existing instance with --redis or redis.addr in tenon.yml",
			})
	}

	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}

	engine := buildEngine(cfg)
	b := bus.New(busOptions(cfg))

	runCtx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = b.Run(runCtx)
	}()

	coord := coordinator.New(store, b, engine, coordinatorOptions(cfg))
	if err := registerWorkers(coord, cfg, engine); err != nil {
		cancel()
		store.Close()
		return nil, err
	}

	return &session{
		cfg:         cfg,
		store:       store,
		bus:         b,
		coordinator: coord,
		cancel:      cancel,
	}, nil
}

func (s *session) Close() {
	s.cancel()
	s.store.Close()
}

func storeOptions(cfg *config.TenonConfig) drawingboard.Options {
	opts := drawingboard.Options{
		Redis: &redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		Session: cfg.Session,
	}
	if s := cfg.Store; s != nil {
		opts.LockTTL = time.Duration(s.LockTTLMs) * time.Millisecond
		opts.HistoryCapacity = s.HistoryCapacity
		opts.SnapshotInterval = int64(s.SnapshotInterval)
		opts.DebounceWindow = time.Duration(s.DebounceMs) * time.Millisecond
	}
	return opts
}

func busOptions(cfg *config.TenonConfig) bus.Options {
	var opts bus.Options
	if b := cfg.Bus; b != nil {
		opts.TickInterval = time.Duration(b.TickMs) * time.Millisecond
		opts.BatchSize = b.BatchSize
		opts.MaxRetries = b.MaxRetries
		opts.DefaultTimeout = time.Duration(b.DefaultTimeoutMs) * time.Millisecond
		opts.CacheTTL = time.Duration(b.CacheTTLMs) * time.Millisecond
	}
	return opts
}

func coordinatorOptions(cfg *config.TenonConfig) coordinator.Options {
	var opts coordinator.Options
	if c := cfg.Coordinator; c != nil {
		opts.MaxResolutionPasses = c.MaxResolutionPasses
		opts.MaxTransactRetries = c.MaxTransactRetries
		opts.MaxVariations = c.MaxVariations
	}
	return opts
}

// buildEngine merges any configured span table entries over the defaults.
func buildEngine(cfg *config.TenonConfig) *rules.Engine {
	table := rules.DefaultSpanTable()
	if cfg.Rules != nil {
		for material, byThickness := range cfg.Rules.SpanTable {
			if table[material] == nil {
				table[material] = make(map[string]float64, len(byThickness))
			}
			for label, span := range byThickness {
				table[material][label] = span
			}
		}
	}
	return rules.DefaultEngine(table)
}

// registerWorkers instantiates the configured built-in workers.
func registerWorkers(coord *coordinator.Coordinator, cfg *config.TenonConfig, engine *rules.Engine) error {
	for name, wc := range cfg.Workers {
		if wc.Disabled {
			continue
		}

		var w worker.Worker
		switch name {
		case "dimension":
			w = &worker.DimensionWorker{}
		case "material":
			w = &worker.MaterialWorker{}
		case "joinery":
			w = &worker.JoineryWorker{}
		case "validation":
			w = &worker.ValidationWorker{Engine: engine}
		default:
			return fmt.Errorf("unknown worker %q in configuration", name)
		}

		err := coord.RegisterWorker(w, bus.RegisterOptions{
			Priority:       wc.Priority,
			Defaults:       wc.Defaults,
			SafetyCritical: wc.SafetyCritical,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
