package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"dashcore/core/config"
	"dashcore/core/events"
	"dashcore/core/fetch"
	"dashcore/core/kernel"
	"dashcore/core/lifecycle"
	"dashcore/core/logger"
	"dashcore/core/metrics"
	"dashcore/core/mockapi"
	"dashcore/core/page"
	"dashcore/core/publisher"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// EventRefreshAll asks the watched page to refresh every topic now. watch
// emits it on SIGHUP.
const EventRefreshAll = "@refreshAll"

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Bool("static", false, "use the in-memory static fetcher instead of the configured one")
	watchCmd.Flags().Bool("mock", false, "start an embedded mock backend and fetch from it over HTTP")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Load the configured page and log every published topic until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := logger.WithComponentName(cmd.Context(), "watch")

		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger.Info(ctx, "Configuration loaded",
			zap.String("environment", cfg.Environment),
			zap.String("page", cfg.Page.Name),
			zap.Int("mappings", len(cfg.Mappings)),
		)

		k := kernel.New()

		static, _ := cmd.Flags().GetBool("static")
		mock, _ := cmd.Flags().GetBool("mock")
		fcfg := cfg.Fetcher
		switch {
		case static:
			fcfg.Kind = config.FetcherStatic
		case mock:
			// Started up front so the fetcher knows the address; the kernel
			// Start call is then a no-op and Stop shuts it down.
			srv := mockapi.New()
			if err := srv.Start(ctx, "127.0.0.1:0"); err != nil {
				return err
			}
			fcfg = config.FetcherConfig{Kind: config.FetcherHTTP, BaseURL: "http://" + srv.Addr(), Timeout: fcfg.Timeout}
			_ = k.Add(kernel.NewService("mock-backend", func(ctx context.Context) error {
				return srv.Start(ctx, "127.0.0.1:0")
			}, srv.Stop))
		}
		f, err := fetch.New(fcfg)
		if err != nil {
			return err
		}

		bus := events.New()
		pub := publisher.New(f, publisher.WithEventBus(bus))
		bus.On(publisher.EventDeliveryFailed, func(data any) {
			if df, ok := data.(publisher.DeliveryFailure); ok {
				logger.Warn(ctx, "Subscriber failed", zap.String("topic", df.Topic), zap.Error(df.Err))
			}
		})

		pg := page.New(cfg.Page.Name, pub, bus, page.SpecsFromConfig(cfg.Mappings))
		pg.BeforeLoad(map[string]events.Listener{
			EventRefreshAll: func(any) {
				for _, s := range pg.Specs() {
					pg.RefreshHandler(s.Topic)(nil)
				}
			},
		})

		w := newWatchers(ctx, pub, bus)
		cfg.AddConfigChangeHook(func(next *config.Config) {
			logger.Info(ctx, "Configuration changed, applying mappings", zap.Int("mappings", len(next.Mappings)))
			w.sync(next.Mappings)
			pg.Apply(page.SpecsFromConfig(next.Mappings))
		})

		if cfg.Metrics.Address != "" {
			_ = k.Add(metricsService(cfg.Metrics.Address))
		}
		_ = k.Add(kernel.NewService("page:"+cfg.Page.Name,
			func(ctx context.Context) error {
				w.sync(cfg.Mappings)
				pg.Load(ctx)
				pg.StartAllIntervals(ctx)
				return nil
			},
			func(context.Context) error {
				pg.StopAllIntervals()
				w.destroyAll()
				pg.Unload()
				return fetch.Close(f)
			},
		))

		if err := k.Start(ctx); err != nil {
			return err
		}

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		for done := false; !done; {
			select {
			case <-hup:
				logger.Info(ctx, "SIGHUP received, refreshing all topics")
				bus.Emit(EventRefreshAll, nil)
			case <-ctx.Done():
				done = true
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := k.Stop(shutdownCtx); err != nil {
			logger.Error(ctx, "Error during shutdown", zap.Error(err))
		}
		logger.Info(ctx, "Watch stopped")
		return nil
	},
}

// watchers keeps one logging component per configured topic.
type watchers struct {
	ctx context.Context
	pub *publisher.Publisher
	bus events.Bus

	mu    sync.Mutex
	byTop map[string]*lifecycle.Component
}

func newWatchers(ctx context.Context, pub *publisher.Publisher, bus events.Bus) *watchers {
	return &watchers{ctx: ctx, pub: pub, bus: bus, byTop: make(map[string]*lifecycle.Component)}
}

// sync mounts a component for every new topic and destroys the components
// of topics that are gone.
func (w *watchers) sync(mappings []config.MappingConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()

	keep := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		keep[m.Topic] = true
		if _, ok := w.byTop[m.Topic]; ok {
			continue
		}
		topic := m.Topic
		c := lifecycle.NewComponent("log:"+topic).Subscribe(topic, func(env publisher.Envelope) {
			logger.Info(w.ctx, "Topic published", append([]zap.Field{zap.String("topic", topic)}, summarize(env)...)...)
		})
		if err := c.Mount(w.pub, w.bus); err != nil {
			logger.Error(w.ctx, "Failed to mount topic logger", zap.String("topic", topic), zap.Error(err))
			continue
		}
		w.byTop[topic] = c
	}
	for topic, c := range w.byTop {
		if !keep[topic] {
			w.destroyLocked(topic, c)
		}
	}
}

func (w *watchers) destroyAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for topic, c := range w.byTop {
		w.destroyLocked(topic, c)
	}
}

func (w *watchers) destroyLocked(topic string, c *lifecycle.Component) {
	c.Destroy()
	if err := c.VerifyCleanup(); err != nil {
		logger.Warn(w.ctx, "Topic logger leaked registrations", zap.Error(err))
	}
	delete(w.byTop, topic)
}

// summarize describes a payload in a few log fields without dumping it.
func summarize(env publisher.Envelope) []zap.Field {
	switch d := env.Data().(type) {
	case nil:
		return []zap.Field{zap.String("data", "empty")}
	case []any:
		return []zap.Field{zap.String("data", "list"), zap.Int("items", len(d))}
	case map[string]any:
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return []zap.Field{zap.String("data", "object"), zap.Strings("keys", keys)}
	default:
		return []zap.Field{zap.Any("data", d)}
	}
}

// metricsService serves the Prometheus endpoint on addr.
func metricsService(addr string) kernel.Service {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	start := func(ctx context.Context) error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(ctx, "Metrics server stopped", zap.Error(err))
			}
		}()
		logger.Info(ctx, "Serving metrics", zap.String("addr", ln.Addr().String()))
		return nil
	}
	return kernel.NewService("metrics", start, srv.Shutdown)
}
