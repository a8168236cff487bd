package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/respiro/gateway/internal/action"
	"github.com/respiro/gateway/internal/api"
	"github.com/respiro/gateway/internal/cache"
	"github.com/respiro/gateway/internal/chat"
	"github.com/respiro/gateway/internal/config"
	"github.com/respiro/gateway/internal/history"
	"github.com/respiro/gateway/internal/metrics"
	"github.com/respiro/gateway/internal/middleware"
	"github.com/respiro/gateway/internal/notify"
	"github.com/respiro/gateway/internal/poll"
	"github.com/respiro/gateway/internal/refresh"
	"github.com/respiro/gateway/internal/upstream"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "respiro-gateway",
		Short: "Air-quality dashboard gateway",
		Long: `respiro-gateway sits between dashboard clients and the Respiro
orchestrator API: it proxies and caches status, forecast, sensor, and log
data, runs the auto-refresh countdown server-side, triggers remote agent
actions, and relays LLM chat streams.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("respiro-gateway %s\n", version)
		},
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	return cmd
}

func serve(configPath string) error {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Respiro gateway starting...")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log.Printf("Upstream orchestrator: %s", cfg.Upstream.BaseURL)
	if cfg.Auth.Enabled {
		log.Printf("  [feature] API key authentication enabled (%d keys, %d admin keys)", len(cfg.Auth.Keys), len(cfg.Auth.AdminKeys))
	}
	if cfg.RateLimit.Enabled {
		log.Printf("  [feature] Rate limiting enabled (%d req/min, burst %d)", cfg.RateLimit.RequestsPerMin, cfg.RateLimit.BurstSize)
	}
	if cfg.Cache.Enabled {
		log.Printf("  [feature] Query cache enabled (%d entries)", cfg.Cache.MaxEntries)
	}
	if cfg.Refresh.Enabled {
		log.Printf("  [feature] Auto-refresh enabled (every %ds: %v)", cfg.Refresh.IntervalSec, cfg.Refresh.Keys)
	}
	if cfg.Poll.Enabled {
		log.Printf("  [feature] Background polling enabled (every %ds)", cfg.Poll.IntervalSec)
	}
	if cfg.Metrics.Enabled {
		log.Printf("  [feature] Prometheus metrics enabled at /metrics")
	}
	if cfg.History.Enabled {
		log.Printf("  [feature] Request history enabled (%s)", cfg.History.Path)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional: metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var sink notify.EventSink
	if m != nil {
		sink = m
	}
	notifier := notify.NewLogNotifier(sink)

	// Optional: query cache
	var qc *cache.QueryCache
	if cfg.Cache.Enabled {
		qc = cache.New(cfg.Cache.MaxEntries)
		qc.StartCleanup(ctx.Done())
	}

	up := upstream.New(cfg.Upstream)

	// Background poller keeps the cache warm. Declared before the
	// refresher so a manual refresh can trigger an immediate re-poll.
	var poller *poll.Poller
	if cfg.Poll.Enabled && qc != nil {
		poller, err = poll.New(time.Duration(cfg.Poll.IntervalSec)*time.Second, func(ctx context.Context) {
			api.WarmCache(ctx, up, qc)
		})
		if err != nil {
			return fmt.Errorf("configuring poller: %w", err)
		}
	}

	refresher := refresh.NewRefresher(qc, cfg.Refresh.Keys, func() {
		if poller != nil {
			poller.Trigger()
		}
	})
	countdown, err := refresh.NewCountdown(cfg.Refresh.IntervalSec, cfg.Refresh.Enabled, refresher.AutoRefresh)
	if err != nil {
		return fmt.Errorf("configuring countdown: %w", err)
	}
	refresher.Bind(countdown)

	// Optional: history
	var hist *history.Store
	if cfg.History.Enabled {
		hist, err = history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer hist.Close()

		go func() {
			ticker := time.NewTicker(6 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n, err := hist.Prune(7 * 24 * time.Hour); err != nil {
						log.Printf("[history] prune failed: %v", err)
					} else if n > 0 {
						log.Printf("[history] pruned %d records", n)
					}
				}
			}
		}()
	}

	runners := buildRunners(cfg, up, qc, notifier)
	providers := buildChatProviders(cfg.Chat)

	handler := api.NewHandler(up, qc, m, hist, refresher, countdown, runners, providers)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	if m != nil {
		mux.HandleFunc("/metrics", m.Handler())
	}

	// Start background loops
	if poller != nil {
		poller.Start(ctx)
		defer poller.Stop()
	}
	go countdown.Run(ctx)

	// Hot reload applies the refresh settings; upstream and listener
	// changes need a restart.
	reloadFunc := func() error {
		newCfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := countdown.SetInterval(newCfg.Refresh.IntervalSec); err != nil {
			return err
		}
		countdown.SetEnabled(newCfg.Refresh.Enabled)
		log.Printf("Configuration reloaded (refresh: every %ds, enabled=%v)",
			newCfg.Refresh.IntervalSec, newCfg.Refresh.Enabled)
		return nil
	}

	if cfg.ConfigPath() != "" {
		go watchConfig(ctx, cfg.ConfigPath(), reloadFunc)
	}

	// Build middleware chain (applied in reverse order)
	var chained http.Handler = mux
	chained = corsMiddleware(chained)
	chained = middleware.StructuredLogging(cfg.Logging.Format)(chained)
	chained = middleware.RequestID(chained)
	if cfg.RateLimit.Enabled {
		chained = middleware.RateLimit(cfg.RateLimit)(chained)
	}
	if cfg.Auth.Enabled {
		chained = middleware.Auth(cfg.Auth)(chained)
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      chained,
		ReadTimeout:  0, // No timeout for streaming
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Signal handling: SIGINT/SIGTERM for shutdown, SIGHUP for config reload
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				log.Printf("Received SIGHUP, reloading configuration...")
				if err := reloadFunc(); err != nil {
					log.Printf("Config reload failed: %v", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Printf("Shutting down gracefully...")
				cancel()

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer shutdownCancel()
				server.Shutdown(shutdownCtx)
				return
			}
		}
	}()

	log.Printf("Gateway listening on %s", cfg.ListenAddr)
	log.Printf("  GET  http://localhost%s/api/status", cfg.ListenAddr)
	log.Printf("  GET  http://localhost%s/api/forecast", cfg.ListenAddr)
	log.Printf("  GET  http://localhost%s/api/sensors", cfg.ListenAddr)
	log.Printf("  GET  http://localhost%s/api/logs", cfg.ListenAddr)
	log.Printf("  POST http://localhost%s/api/agents/run/<action>", cfg.ListenAddr)
	log.Printf("  POST http://localhost%s/api/refresh", cfg.ListenAddr)
	log.Printf("  POST http://localhost%s/api/respiro/chat", cfg.ListenAddr)
	log.Printf("  GET  http://localhost%s/health", cfg.ListenAddr)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func buildRunners(cfg *config.Config, up *upstream.Client, qc *cache.QueryCache, notifier notify.Notifier) []*action.Runner {
	runnerFor := func(name string, keys []string) *action.Runner {
		return action.NewRunner(name,
			func(ctx context.Context) (json.RawMessage, error) {
				return up.RunAgent(ctx, name)
			},
			keys, qc, notifier)
	}

	return []*action.Runner{
		runnerFor(upstream.AgentForecastCycle, []string{"status", "forecast", "logs"}),
		runnerFor(upstream.AgentEnforcement, []string{"status", "logs"}),
		runnerFor(upstream.AgentAccountability, []string{"status", "logs"}),
	}
}

func buildChatProviders(cfg config.ChatConfig) map[string]func() (chat.Streamer, error) {
	opts := func(p config.ProviderConfig) chat.Options {
		return chat.Options{
			APIKey:       p.APIKey,
			Model:        p.Model,
			SystemPrompt: cfg.SystemPrompt,
			MaxTokens:    cfg.MaxTokens,
		}
	}

	return map[string]func() (chat.Streamer, error){
		"openai": func() (chat.Streamer, error) {
			s, err := chat.NewOpenAI(opts(cfg.OpenAI))
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		"gemini": func() (chat.Streamer, error) {
			s, err := chat.NewGemini(opts(cfg.Gemini))
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		"anthropic": func() (chat.Streamer, error) {
			s, err := chat.NewAnthropic(opts(cfg.Anthropic))
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}
}

// watchConfig reloads on config-file writes, complementing SIGHUP.
func watchConfig(ctx context.Context, path string, reload func() error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[config] watcher unavailable: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		log.Printf("[config] watching %s: %v", path, err)
		return
	}

	// Editors often fire several events per save; coalesce them.
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				pending = time.After(250 * time.Millisecond)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watch error: %v", err)
		case <-pending:
			pending = nil
			log.Printf("[config] %s changed, reloading...", path)
			if err := reload(); err != nil {
				log.Printf("Config reload failed: %v", err)
			}
		}
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
