// Command kubechat is an interactive Kubernetes operations assistant.
// It connects a chat model to a Kubernetes MCP tool server and keeps
// per-user conversation history and long-term memory.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kubechat/kubechat/internal/config"
	"github.com/kubechat/kubechat/internal/llm"
	"github.com/kubechat/kubechat/internal/mcp"
	"github.com/kubechat/kubechat/internal/memory"
	"github.com/kubechat/kubechat/internal/metrics"
	"github.com/kubechat/kubechat/internal/session"
	"github.com/kubechat/kubechat/internal/store"
	"github.com/kubechat/kubechat/pkg/errors"
)

const replUser = "default"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "kubechat:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	mgr, err := config.NewManager(configPath, nil)
	if err != nil {
		return err
	}
	defer mgr.Close()
	cfg := mgr.Get()

	logger, logLevel := buildLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Reloads swap the provider catalog and log level; existing sessions
	// keep their bindings, new binds and tool connections see the update.
	var factory atomic.Pointer[llm.Factory]
	factory.Store(llm.NewFactory(cfg.LLM))
	mgr.OnChange(func(c *config.Config) {
		factory.Store(llm.NewFactory(c.LLM))
		logLevel.Set(parseLevel(c.Logging.Level))
	})
	if err := mgr.Watch(ctx); err != nil {
		logger.Warn("config hot-reload unavailable", "error", err)
	}

	st, err := store.New(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	mem, err := buildMemory(cfg, factory.Load(), logger)
	if err != nil {
		return err
	}

	registry := session.NewRegistry(session.RegistryParams{
		Store: st,
		Binder: session.BinderFunc(func(providerName, model string, temperature float64) (session.Binding, error) {
			return session.FactoryBinder{Factory: factory.Load()}.Bind(providerName, model, temperature)
		}),
		Memory: mem,
		NewTools: func() session.ToolRunner {
			return mcp.NewConn(mgr.Get().MCP, logger)
		},
		LLM:     cfg.LLM,
		Session: cfg.Session,
		Memcfg:  cfg.Memory,
		Logger:  logger,
	})

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics, logger)
	}

	err = repl(ctx, registry)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := registry.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("registry shutdown incomplete", "error", serr)
	}
	return err
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildLogger returns the logger and the level var a config reload
// adjusts in place.
func buildLogger(cfg config.LoggingConfig) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), level
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts)), level
}

// buildMemory wires the memory manager, or returns nil when disabled.
func buildMemory(cfg *config.Config, factory *llm.Factory, logger *slog.Logger) (session.Memory, error) {
	if !cfg.Memory.Enabled {
		return nil, nil
	}
	if cfg.Memory.EmbeddingProvider == "" || cfg.Memory.EmbeddingModel == "" {
		logger.Warn("memory enabled without an embedding model, disabling")
		return nil, nil
	}

	embedder, err := factory.Embedder(cfg.Memory.EmbeddingProvider, cfg.Memory.EmbeddingModel)
	if err != nil {
		return nil, err
	}

	completer, err := factory.Bind(cfg.LLM.DefaultProvider, cfg.LLM.DefaultModel, 0.2)
	if err != nil {
		return nil, err
	}

	var vectors memory.VectorStore
	if cfg.Store.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr: cfg.Store.RedisAddr,
			DB:   cfg.Store.RedisDB,
		})
		vectors = memory.NewRedisVectorStore(client)
	} else {
		vectors = memory.NewInMemoryVectorStore()
	}

	return memory.NewManager(vectors, embedder, completer, cfg.Memory, logger), nil
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, metrics.Handler())
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", cfg.Addr, "path", cfg.Path)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}

func repl(ctx context.Context, registry *session.Registry) error {
	sessionID := session.NewSessionID()
	sess, err := registry.Get(ctx, replUser, sessionID)
	if err != nil {
		if errors.KindOf(err) == errors.KindConnection {
			fmt.Println("warning: tool server unreachable, running without tools")
		} else {
			return err
		}
	}

	fmt.Println("kubechat ready. /sessions, /model, /new, /quit")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			var quit bool
			sess, quit = handleCommand(ctx, registry, sess, line)
			if quit {
				return nil
			}
			continue
		}

		events, err := sess.Send(ctx, line)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		renderEvents(events)
	}
}

// handleCommand processes one slash command, returning the (possibly
// replaced) session and whether the REPL should exit.
func handleCommand(ctx context.Context, registry *session.Registry, sess *session.Session, line string) (*session.Session, bool) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return sess, true

	case "/new":
		next, err := registry.Get(ctx, replUser, session.NewSessionID())
		if err != nil && errors.KindOf(err) != errors.KindConnection {
			fmt.Println("error:", err)
			return sess, false
		}
		fmt.Println("started session", next.ID())
		return next, false

	case "/sessions":
		metas, err := registry.List(ctx, replUser)
		if err != nil {
			fmt.Println("error:", err)
			return sess, false
		}
		if len(metas) == 0 {
			fmt.Println("no stored sessions")
			return sess, false
		}
		for _, m := range metas {
			fmt.Printf("%s  %-50s  %d turns  %s\n",
				m.SessionID, m.Title, m.TurnCount, m.UpdatedAt.Format(time.RFC3339))
		}
		return sess, false

	case "/model":
		if len(fields) == 1 {
			fmt.Println("current model:", sess.ModelKey())
			return sess, false
		}
		if len(fields) < 3 {
			fmt.Println("usage: /model <provider> <model> [temperature]")
			return sess, false
		}
		temperature := 0.7
		if len(fields) >= 4 {
			if v, err := strconv.ParseFloat(fields[3], 64); err == nil {
				temperature = v
			}
		}
		rebound, err := sess.UpdateSettings(ctx, fields[1], fields[2], temperature)
		if err != nil {
			fmt.Println("error:", err)
			return sess, false
		}
		if rebound {
			fmt.Println("switched to", sess.ModelKey())
		} else {
			fmt.Println("updated settings for", sess.ModelKey())
		}
		return sess, false

	default:
		fmt.Println("unknown command:", fields[0])
		return sess, false
	}
}

func renderEvents(events <-chan session.Event) {
	for ev := range events {
		switch ev.Type {
		case session.EventToken:
			fmt.Print(ev.Text)
		case session.EventToolStart:
			fmt.Printf("\n[tool] %s %s\n", ev.ToolName, ev.ToolInput)
		case session.EventToolEnd:
			if ev.ToolFailed {
				fmt.Printf("[tool] %s failed\n", ev.ToolName)
			}
		case session.EventError:
			fmt.Println("\nerror:", ev.Err)
		case session.EventDone:
			fmt.Println()
		}
	}
}
