// ABOUTME: Entry point for the glimpse-gateway server
// ABOUTME: Fronts vision and speech providers for image description clients

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/glimpse-gateway/internal/auth"
	"github.com/2389/glimpse-gateway/internal/config"
	"github.com/2389/glimpse-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
        _ _
   __ _| (_)_ __ ___  _ __  ___  ___
  / _' | | | '_ ' _ \| '_ \/ __|/ _ \
 | (_| | | | | | | | | |_) \__ \  __/
  \__, |_|_|_| |_| |_| .__/|___/\___|
  |___/              |_|
`

// getConfigPath resolves the config file location. GLIMPSE_CONFIG wins,
// then XDG_CONFIG_HOME/glimpse/gateway.yaml, then ~/.config.
func getConfigPath() string {
	if p := os.Getenv("GLIMPSE_CONFIG"); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "glimpse", "gateway.yaml")
}

// getDataPath resolves the data directory, XDG_DATA_HOME/glimpse or
// ~/.local/share/glimpse.
func getDataPath() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "glimpse")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "key":
		err = runKey()
	case "token":
		err = runToken()
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Printf("glimpse-gateway %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (run 'glimpse-gateway' for usage)\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: glimpse-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve              Start the gateway server")
	fmt.Println("  init               Create a new config file interactively")
	fmt.Println("  key --name NAME    Generate an API key and its config entry")
	fmt.Println("  token --subject S  Mint a JWT from the configured secret")
	fmt.Println("  health             Check gateway health")
	fmt.Println("  version            Print the version")
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()
	color.New(color.FgCyan).Print(banner)
	color.New(color.FgHiBlack).Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no config at %s (run 'glimpse-gateway init' to create one)", configPath)
		}
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	printStartup(configPath, cfg)

	logger.Info("starting glimpse-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"speech", cfg.Speech.Provider,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

// printStartup lists what the server is about to expose.
func printStartup(configPath string, cfg *config.Config) {
	arrow := color.New(color.FgGreen).Sprint("    ▶ ")
	fmt.Printf("%sConfig:  %s\n", arrow, configPath)
	fmt.Printf("%sHTTP:    %s\n", arrow, cfg.Server.HTTPAddr)
	fmt.Printf("%sPublic:  %s\n", arrow, cfg.Server.PublicBaseURL)
	fmt.Printf("%sSpeech:  %s\n", arrow, cfg.Speech.Provider)
	if cfg.MCP.Enabled {
		fmt.Printf("%sMCP:     /mcp\n", arrow)
	}
	if cfg.Tailscale.Enabled {
		line := arrow + "Tailscale: " + color.CyanString(cfg.Tailscale.Hostname)
		switch {
		case cfg.Tailscale.Funnel:
			line += color.YellowString(" [funnel]")
		case cfg.Tailscale.HTTPS:
			line += color.YellowString(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			line += color.HiBlackString(" (ephemeral)")
		}
		fmt.Println(line)
	}
	fmt.Println()
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := parseLogLevel(cfg.Level)
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(&ttyHandler{out: os.Stdout, level: level})
}

func parseLogLevel(s string) slog.Level {
	switch s {
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

// Level tags for terminal output. JSON logs go through the stock handler;
// this one is for humans watching a dev gateway.
var levelTags = map[slog.Level]string{
	slog.LevelDebug: color.MagentaString("DBG"),
	slog.LevelInfo:  color.CyanString("INF"),
	slog.LevelWarn:  color.YellowString("WRN"),
	slog.LevelError: color.New(color.FgRed, color.Bold).Sprint("ERR"),
}

// ttyHandler renders records as colorized single lines.
type ttyHandler struct {
	mu     sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *ttyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *ttyHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05")))
	buf.WriteByte(' ')

	tag, ok := levelTags[r.Level]
	if !ok {
		tag = r.Level.String()
	}
	buf.WriteString(tag)
	buf.WriteByte(' ')
	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.qualify(a))
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func writeAttr(buf *strings.Builder, a slog.Attr) {
	buf.WriteString(color.HiBlackString(" " + a.Key + "="))
	buf.WriteString(a.Value.String())
}

// qualify prefixes a key with the open group path.
func (h *ttyHandler) qualify(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 {
		return a
	}
	return slog.Attr{Key: strings.Join(h.groups, ".") + "." + a.Key, Value: a.Value}
}

func (h *ttyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	for _, a := range attrs {
		c.attrs = append(c.attrs, h.qualify(a))
	}
	return c
}

func (h *ttyHandler) WithGroup(name string) slog.Handler {
	c := h.clone()
	c.groups = append(c.groups, name)
	return c
}

func (h *ttyHandler) clone() *ttyHandler {
	return &ttyHandler{
		out:    h.out,
		level:  h.level,
		attrs:  append([]slog.Attr(nil), h.attrs...),
		groups: append([]string(nil), h.groups...),
	}
}

// runHealth probes the health endpoint of the gateway named in the config.
func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	target := strings.TrimSuffix(cfg.Server.PublicBaseURL, "/") + "/healthz"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("reaching %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	fmt.Println("healthy")
	return nil
}

// runKey generates a fresh API key and prints the api_keys entry for it.
// The plaintext is shown exactly once; the config carries only the hash.
func runKey() error {
	name, err := parseNameFlag(os.Args[2:], "--name")
	if err != nil {
		return err
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("generating key: %w", err)
	}
	key := "gsk_" + base64.RawURLEncoding.EncodeToString(raw)

	hash, err := auth.HashKey(key)
	if err != nil {
		return fmt.Errorf("hashing key: %w", err)
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Printf("  ✓ Generated key for %q\n\n", name)
	fmt.Println("  Add this entry to the auth.api_keys section of your config:")
	fmt.Println()
	fmt.Printf("    - name: %q\n", name)
	fmt.Printf("      hash: %q\n", hash)
	fmt.Println()
	yellow.Println("  The key below is shown only once. Store it somewhere safe:")
	fmt.Println()
	fmt.Printf("    %s\n", key)
	fmt.Println()

	return nil
}

// runToken mints a JWT signed with the configured secret. Useful for
// service clients that rotate their own short-lived credentials.
func runToken() error {
	args := os.Args[2:]
	var subject string
	ttl := 30 * 24 * time.Hour

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--subject" || arg == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--subject requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--subject="):
			subject = strings.TrimPrefix(arg, "--subject=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
			i++
		case strings.HasPrefix(arg, "--ttl="):
			d, err := time.ParseDuration(strings.TrimPrefix(arg, "--ttl="))
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag %q", arg)
		default:
			return fmt.Errorf("unexpected argument %q", arg)
		}
	}

	if strings.TrimSpace(subject) == "" {
		return fmt.Errorf("--subject flag is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", time.Now().Add(ttl).UTC().Format("Jan 02, 2006"))
	return nil
}

// parseNameFlag handles "--name value" and "--name=value" forms.
func parseNameFlag(args []string, flag string) (string, error) {
	var value string
	short := "-" + strings.TrimPrefix(flag, "--")[:1]

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == flag || arg == short:
			if i+1 >= len(args) {
				return "", fmt.Errorf("%s requires a value", flag)
			}
			value = args[i+1]
			i++
		case strings.HasPrefix(arg, flag+"="):
			value = strings.TrimPrefix(arg, flag+"=")
		case strings.HasPrefix(arg, short+"="):
			value = strings.TrimPrefix(arg, short+"=")
		case strings.HasPrefix(arg, "-"):
			return "", fmt.Errorf("unknown flag %q", arg)
		default:
			return "", fmt.Errorf("unexpected argument %q", arg)
		}
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%s flag is required", flag)
	}
	if len(value) > 100 {
		return "", fmt.Errorf("%s exceeds maximum length of 100 characters", flag)
	}
	return value, nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("glimpse-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	dataPath := getDataPath()
	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", ":8080")
	publicURL := prompt(reader, "Public base URL", "http://localhost"+httpAddr)

	fmt.Println("\n--- Provider Configuration ---")
	fmt.Println("Keys left empty are read from the environment at startup.")
	openaiKey := prompt(reader, "OpenAI API key", "")
	geminiKey := prompt(reader, "Gemini API key", "")
	anthropicKey := prompt(reader, "Anthropic API key", "")

	fmt.Println("\n--- Speech Configuration ---")
	speechProvider := prompt(reader, "TTS provider (openai/elevenlabs/none)", "openai")
	speechVoice := "alloy"
	if speechProvider != "none" {
		speechVoice = prompt(reader, "Voice", "alloy")
	}

	fmt.Println("\n--- Conversation Store ---")
	convStore := prompt(reader, "Backend (memory/redis)", "memory")
	var redisAddr string
	if convStore == "redis" {
		redisAddr = prompt(reader, "Redis address", "localhost:6379")
	}

	fmt.Println("\n--- Storage Configuration ---")
	audioDir := prompt(reader, "Audio directory", filepath.Join(dataPath, "audio"))
	usagePath := prompt(reader, "Usage ledger SQLite path (empty to disable)", filepath.Join(dataPath, "usage.db"))

	fmt.Println("\n--- MCP Configuration ---")
	mcpEnabled := yes(prompt(reader, "Expose MCP tools at /mcp?", "yes"))

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := yes(prompt(reader, "Enable Tailscale?", "no"))
	var tsHostname, tsAuthKey string
	var tsEphemeral, tsHTTPS, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "glimpse-gateway")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		tsEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		tsHTTPS = yes(prompt(reader, "Serve HTTPS with Tailscale certificates?", "no"))
		tsFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Auth Configuration ---")
	authEnabled := yes(prompt(reader, "Require authentication?", "no"))
	var jwtSecret string
	if authEnabled {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secret)
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# glimpse-gateway configuration\n")
	cfg.WriteString("# Generated by glimpse-gateway init\n\n")

	fmt.Fprintf(&cfg, "server:\n  http_addr: %q\n  public_base_url: %q\n\n", httpAddr, publicURL)

	cfg.WriteString("providers:\n  timeout: \"30s\"\n")
	writeProviderSection(&cfg, "openai", openaiKey, "OPENAI_API_KEY")
	writeProviderSection(&cfg, "gemini", geminiKey, "GEMINI_API_KEY")
	writeProviderSection(&cfg, "anthropic", anthropicKey, "ANTHROPIC_API_KEY")
	writeProviderSection(&cfg, "doubao", "", "DOUBAO_API_KEY")
	writeProviderSection(&cfg, "qwen", "", "QWEN_API_KEY")
	writeProviderSection(&cfg, "glm", "", "GLM_API_KEY")
	cfg.WriteString("\n")

	fmt.Fprintf(&cfg, "speech:\n  provider: %q\n", speechProvider)
	if speechProvider != "none" {
		fmt.Fprintf(&cfg, "  voice: %q\n  format: \"mp3\"\n", speechVoice)
	}
	cfg.WriteString("\n")

	fmt.Fprintf(&cfg, "conversations:\n  store: %q\n  max_turns: 10\n  ttl: \"30m\"\n", convStore)
	if convStore == "redis" {
		fmt.Fprintf(&cfg, "  redis:\n    addr: %q\n", redisAddr)
	}
	cfg.WriteString("\n")

	fmt.Fprintf(&cfg, "audio:\n  dir: %q\n  expiration: \"24h\"\n\n", audioDir)
	fmt.Fprintf(&cfg, "usage:\n  path: %q\n\n", usagePath)
	fmt.Fprintf(&cfg, "mcp:\n  enabled: %t\n\n", mcpEnabled)

	fmt.Fprintf(&cfg, "tailscale:\n  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		if tsAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", tsAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n  https: %t\n  funnel: %t\n", tsEphemeral, tsHTTPS, tsFunnel)
	}
	cfg.WriteString("\n")

	if authEnabled {
		fmt.Fprintf(&cfg, "auth:\n  enabled: true\n  jwt_secret: %q\n  api_keys: []\n\n", jwtSecret)
	}

	fmt.Fprintf(&cfg, "logging:\n  level: %q\n  format: %q\n", logLevel, logFormat)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file may carry credentials, so keep it private.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(audioDir, 0755); err != nil {
		return fmt.Errorf("creating audio directory: %w", err)
	}
	if usagePath != "" {
		if err := os.MkdirAll(filepath.Dir(usagePath), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	if authEnabled {
		fmt.Println("\nAuthentication is on. Mint a client key with:")
		fmt.Println("  glimpse-gateway key --name \"my-client\"")
	}
	fmt.Println("\nTo start the server:")
	fmt.Println("  glimpse-gateway serve")

	return nil
}

// writeProviderSection emits one vendor's credentials, falling back to an
// environment expansion when no key was entered.
func writeProviderSection(cfg *strings.Builder, name, key, envVar string) {
	if key == "" {
		key = "${" + envVar + "}"
	}
	fmt.Fprintf(cfg, "  %s:\n    api_key: %q\n", name, key)
}

func yes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// prompt asks one question and returns the answer, or defaultVal on an
// empty line or EOF.
func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	if line = strings.TrimSpace(line); line != "" {
		return line
	}
	return defaultVal
}
