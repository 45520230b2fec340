// ABOUTME: Entry point for the persona-gateway server
// ABOUTME: Mediates between browser visitors and a Letta-compatible agent runtime

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/persona-gateway/internal/blocks"
	"github.com/2389/persona-gateway/internal/cache"
	"github.com/2389/persona-gateway/internal/config"
	"github.com/2389/persona-gateway/internal/gateway"
	"github.com/2389/persona-gateway/internal/identity"
	"github.com/2389/persona-gateway/internal/letta"
	"github.com/2389/persona-gateway/internal/ratelimit"
	"github.com/2389/persona-gateway/internal/reconcile"
	"github.com/2389/persona-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _ __   ___ _ __ ___  ___  _ __   __ _        __ _ _ __ _
| '_ \ / _ \ '__/ __|/ _ \| '_ \ / _' |_____ / _' | '__| |
| |_) |  __/ |  \__ \ (_) | | | | (_| |_____| (_| | |  | |___
| .__/ \___|_|  |___/\___/|_| |_|\__,_|      \__, |_|   \____|
|_|                                          |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: PERSONA_CONFIG env var > XDG_CONFIG_HOME/persona/gateway.yaml > ~/.config/persona/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PERSONA_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "persona", "gateway.yaml")
}

func main() {
	// A .env file is optional; variables it sets feed ${VAR} expansion in
	// the config file.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Println("Usage: persona-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the gateway server")
		fmt.Println("  init     Create config and agent template files")
		fmt.Println("  health   Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Runtime:  %s\n", cfg.Letta.BaseURL)
	green.Print("    ▶ ")
	fmt.Printf("Identity: %s\n", identityMode(cfg))
	fmt.Println()

	logger.Info("starting persona-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"letta_base_url", cfg.Letta.BaseURL,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	template, err := gateway.LoadAgentTemplate(cfg.Agents.TemplatePath)
	if err != nil {
		return fmt.Errorf("loading agent template: %w", err)
	}

	client := letta.New(cfg.Letta.BaseURL, cfg.Letta.APIKey, cfg.Letta.Timeout)
	registry := blocks.NewRegistry(st, client)
	coordinator := blocks.NewCoordinator(registry, client)

	limiter := ratelimit.New(map[ratelimit.Class]ratelimit.ClassLimit{
		ratelimit.ClassRead: {Requests: cfg.RateLimit.Read.Requests, Window: cfg.RateLimit.Read.Window},
		ratelimit.ClassSend: {Requests: cfg.RateLimit.Send.Requests, Window: cfg.RateLimit.Send.Window},
	})
	defer limiter.Close()

	responseCache := cache.New(cfg.Cache.MaxEntries)
	defer responseCache.Close()

	resolver := identity.NewResolver(identity.Config{
		Enabled:    cfg.CookieAuth.Enabled,
		Secret:     []byte(cfg.CookieAuth.Secret),
		CookieName: cfg.CookieAuth.CookieName,
		MaxAge:     cfg.CookieAuth.MaxAge,
	})

	service := gateway.NewService(cfg, client, registry, coordinator, limiter, responseCache, template)
	server := gateway.NewServer(service, resolver)

	if cfg.Reconcile.Enabled {
		sweeper := reconcile.New(coordinator, cfg.Reconcile.Schedule)
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("starting reconciliation sweep: %w", err)
		}
		defer sweeper.Stop()
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func identityMode(cfg *config.Config) string {
	if cfg.CookieAuth.Enabled {
		return "cookie (" + cfg.CookieAuth.CookieName + ")"
	}
	return "shared"
}

// runInit writes a starter config file and agent template next to it.
func runInit() error {
	configPath := getConfigPath()
	configDir := filepath.Dir(configPath)
	templatePath := filepath.Join(configDir, "default-agent.toml")
	dbPath := filepath.Join(configDir, "gateway.db")

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("Config already exists: %s\n", configPath)
		return nil
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating cookie secret: %w", err)
	}
	secret := base64.StdEncoding.EncodeToString(secretBytes)

	configContent := fmt.Sprintf(`server:
  http_addr: ":8080"

letta:
  base_url: "http://localhost:8283"
  api_key: "${LETTA_API_KEY}"
  timeout: "30s"

database:
  path: %q

cookie_auth:
  enabled: true
  secret: %q
  cookie_name: "persona_uid"
  max_age: "720h"

agents:
  template_path: %q
  create_from_ui: true

rate_limit:
  read:
    requests: 200
    window: "1m"
  send:
    requests: 30
    window: "1m"

cache:
  max_entries: 1024
  agent_list_ttl: "1m"

reconcile:
  enabled: true
  schedule: "@every 5m"

logging:
  level: "info"
  format: "text"
`, dbPath, secret, templatePath)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	green.Printf("Created config: %s\n", configPath)

	if _, err := os.Stat(templatePath); os.IsNotExist(err) {
		f, err := os.Create(templatePath)
		if err != nil {
			return fmt.Errorf("creating agent template: %w", err)
		}
		defer f.Close()
		if err := toml.NewEncoder(f).Encode(gateway.DefaultAgentTemplate()); err != nil {
			return fmt.Errorf("writing agent template: %w", err)
		}
		green.Printf("Created agent template: %s\n", templatePath)
	}

	fmt.Println()
	fmt.Println("Next: start your Letta runtime, then run: persona-gateway serve")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	// Handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
