// ABOUTME: Entry point for the opsdesk support-chat gateway
// ABOUTME: Serves the chat API and mints tokens for users and admins

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/opsdesk/internal/auth"
	"github.com/2389/opsdesk/internal/config"
	"github.com/2389/opsdesk/internal/gateway"
	"github.com/2389/opsdesk/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                       _           _
  ___  _ __  ___   __| | ___  ___| | __
 / _ \| '_ \/ __| / _' |/ _ \/ __| |/ /
| (_) | |_) \__ \| (_| |  __/\__ \   <
 \___/| .__/|___/ \__,_|\___||___/_|\_\
      |_|
`

// getConfigPath returns the path to the gateway config file.
// Priority: OPSDESK_CONFIG env var > XDG_CONFIG_HOME/opsdesk/gateway.yaml > ~/.config/opsdesk/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("OPSDESK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "opsdesk", "gateway.yaml")
}

// getDataPath returns the opsdesk data directory.
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "opsdesk")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: opsdesk-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                              Start the gateway server")
		fmt.Println("  init                               Create a new config file interactively")
		fmt.Println("  token --id N --role user|admin     Mint a bearer token")
		fmt.Println("  health                             Check gateway health")
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
	case "token":
		err = runToken(os.Args[2:])
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

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   %s\n", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting opsdesk-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{out: os.Stdout, mu: &sync.Mutex{}, level: level}
	}

	return slog.New(handler)
}

// colorHandler writes one colorized line per record. Handlers derived via
// WithAttrs and WithGroup share the parent's mutex.
type colorHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	prefix string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch {
	case r.Level >= slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	case r.Level >= slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case r.Level >= slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	default:
		buf.WriteString(color.MagentaString("DBG "))
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
	buf.WriteString(a.Value.String())
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = h.prefix + a.Key
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// runToken mints a bearer token signed with the configured secret.
// Supports both "--flag value" and "--flag=value".
func runToken(args []string) error {
	var (
		idStr, roleStr, name string
		ttl                  = 30 * 24 * time.Hour
	)

	for i := 0; i < len(args); i++ {
		key, val, hasVal := strings.Cut(args[i], "=")
		if !hasVal {
			if i+1 >= len(args) {
				return fmt.Errorf("%s requires a value", key)
			}
			val = args[i+1]
			i++
		}
		switch key {
		case "--id":
			idStr = val
		case "--role", "-r":
			roleStr = val
		case "--name", "-n":
			name = val
		case "--ttl", "-t":
			d, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("invalid ttl: %w", err)
			}
			ttl = d
		default:
			return fmt.Errorf("unknown flag: %s", key)
		}
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("usage: token --id <account id> --role user|admin [--name NAME] [--ttl 720h]")
	}
	role := store.Role(roleStr)
	if roleStr == "" {
		role = store.RoleUser
	}
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", roleStr)
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	token, err := verifier.Generate(auth.Identity{ID: id, Username: name, Role: role}, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	fmt.Fprintln(os.Stderr)
	green.Fprintln(os.Stderr, "  Token created")
	cyan.Fprintf(os.Stderr, "  Account:  %d (%s)\n", id, role)
	cyan.Fprintf(os.Stderr, "  Expires:  %s\n", time.Now().Add(ttl).UTC().Format("Jan 02, 2006 15:04 MST"))
	fmt.Fprintln(os.Stderr)
	fmt.Println(token)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("opsdesk-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	defaultDBPath := filepath.Join(getDataPath(), "opsdesk.db")

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := strings.ToLower(prompt(reader, "File exists. Overwrite?", "no"))
		if overwrite != "yes" && overwrite != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", config.DefaultHTTPAddr)

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDBPath)

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	fmt.Println("\n--- Metrics Configuration ---")
	metricsAnswer := strings.ToLower(prompt(reader, "Expose Prometheus metrics?", "yes"))
	metricsEnabled := metricsAnswer == "yes" || metricsAnswer == "y"

	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	var cfg strings.Builder
	cfg.WriteString("# opsdesk-gateway configuration\n")
	cfg.WriteString("# Generated by opsdesk-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", httpAddr)

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", dbPath)

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n\n", jwtSecret)

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n\n", logFormat)

	cfg.WriteString("metrics:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", metricsEnabled)
	fmt.Fprintf(&cfg, "  path: %q\n\n", config.DefaultMetricsPath)

	cfg.WriteString("stream:\n")
	fmt.Fprintf(&cfg, "  write_timeout: %q\n", config.DefaultStreamWriteTimeout.String())
	fmt.Fprintf(&cfg, "  buffer_size: %d\n", config.DefaultStreamBufferSize)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file holds the signing secret
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	green := color.New(color.FgGreen)
	fmt.Println()
	green.Printf("  ✓ Config written to %s\n", outputFile)
	green.Printf("  ✓ Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  opsdesk-gateway token --id 1 --role admin   # mint an admin token")
	fmt.Println("  opsdesk-gateway serve")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
