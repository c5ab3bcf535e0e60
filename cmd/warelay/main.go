package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/warelay/internal/config"
	"github.com/mattjoyce/warelay/internal/doctor"
	"github.com/mattjoyce/warelay/internal/lock"
	"github.com/mattjoyce/warelay/internal/log"
	"github.com/mattjoyce/warelay/internal/state"
	"github.com/mattjoyce/warelay/internal/storage"
	"github.com/mattjoyce/warelay/internal/tui/watch"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	// --- NOUNS ---
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT ALIASES ---
	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: warelay version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("warelay %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}

	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`warelay - WhatsApp webhook relay

Usage:
  warelay <noun> <action> [flags]

Nouns:
  system    Relay lifecycle and health
  config    Process configuration and persisted relay settings

System Commands:
  system start      Start the relay in the foreground
  system status     Show relay health (config, state dir, lock, HTTP)
  system watch      Live terminal dashboard

Config Commands:
  config check      Validate configuration and persisted relay settings
  config show       Print the resolved configuration

General:
  version [--json]  Show version information
  help              Show this help message

Environment:
  WARELAY_CONFIG, WARELAY_DATA_DIR, WARELAY_UPSTREAM_URL,
  WEBHOOK_AUTH_USER, WEBHOOK_AUTH_PASS, PORT

Use 'warelay <noun> help' for action-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			printConfigShowHelp()
			return 0
		}
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: warelay system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: warelay config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, show")
}

func printSystemStartHelp() {
	fmt.Println("Usage: warelay system start [--config PATH]")
	fmt.Println("Start the relay in the foreground. One instance per state.dir.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: warelay system status [--config PATH] [--json]")
	fmt.Println("Show relay health (config, state directory, PID lock and /healthz).")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: warelay system watch [flags]")
	fmt.Println()
	fmt.Println("Live dashboard: relay health, counters, recent logs and the event stream.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --config PATH    Config used for defaults below")
	fmt.Println("  --url URL        Relay base URL (default: from server.listen)")
	fmt.Println("  --user USER      Admin user (default: admin.username / WEBHOOK_AUTH_USER)")
	fmt.Println("  --pass PASS      Admin password (default: admin.password / WEBHOOK_AUTH_PASS)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  r                Refresh counters and logs")
	fmt.Println("  ↑/↓, k/j         Scroll logs")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: warelay config check [--config PATH] [--json] [--strict]")
	fmt.Println("Validate configuration and the persisted relay settings.")
	fmt.Println("Exit codes: 0 valid, 1 invalid, 2 warnings with --strict.")
}

func printConfigShowHelp() {
	fmt.Println("Usage: warelay config show [--config PATH] [--json] [--relay]")
	fmt.Println("Print the resolved configuration (password masked). --relay prints the")
	fmt.Println("persisted relay settings instead (secret masked).")
}

// loadConfig discovers and loads the process config.
func loadConfig(flagPath string) (*config.Config, error) {
	path, err := config.Discover(flagPath)
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// readPersistedSettings returns the stored relay settings, or nil when none
// have been saved yet.
func readPersistedSettings(ctx context.Context, cfg *config.Config) (*state.Settings, error) {
	if cfg.State.Backend == config.BackendSQLite {
		// Inspection must not create the database.
		if _, err := os.Stat(filepath.Join(cfg.State.Dir, sqliteFile)); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
	}
	docs, closeDocs, err := openDocuments(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeDocs()

	raw, err := docs.Load(ctx, state.SettingsDocument)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s, err := state.ParseSettings(raw)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// localURL turns a listen address into a URL reachable from this host.
func localURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// --- ACTION IMPLEMENTATIONS ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("warelay starting", "version", version, "config", cfg.SourcePath)

	pidLockPath := lock.PathIn(cfg.State.Dir)
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := newRelay(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize relay", "error", err)
		return 1
	}
	defer func() {
		if err := r.close(); err != nil {
			logger.Error("failed to close state backend", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.server.Start(ctx)
	}()

	logger.Info("warelay running (press Ctrl+C to stop)",
		"listen", cfg.Server.Listen,
		"webhook_path", cfg.Server.WebhookPath,
		"backend", cfg.State.Backend,
	)

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("shutdown failed", "error", err)
			code = 1
		}
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		code = 1
	}

	// Final flush; the store logs its own failure.
	if err := r.store.Persist(context.Background()); err != nil {
		code = 1
	}
	logger.Info("warelay stopped")
	return code
}

type statusCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type statusReport struct {
	Healthy bool          `json:"healthy"`
	Running bool          `json:"running"`
	Checks  []statusCheck `json:"checks"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := statusReport{Healthy: true}
	add := func(name string, ok bool, detail string) {
		report.Checks = append(report.Checks, statusCheck{Name: name, OK: ok, Detail: detail})
		if !ok {
			report.Healthy = false
		}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		add("config_load", false, err.Error())
		return printStatus(report, *jsonOut)
	}
	source := cfg.SourcePath
	if source == "" {
		source = "defaults"
	}
	add("config_load", true, source)

	if info, err := os.Stat(cfg.State.Dir); err != nil {
		add("state_dir", false, err.Error())
	} else if !info.IsDir() {
		add("state_dir", false, cfg.State.Dir+" is not a directory")
	} else {
		add("state_dir", true, cfg.State.Dir)
	}

	settings, err := readPersistedSettings(context.Background(), cfg)
	switch {
	case err != nil:
		add("relay_settings", false, err.Error())
	case settings == nil:
		add("relay_settings", true, "none persisted; defaults apply")
	default:
		if verr := settings.Validate(); verr != nil {
			add("relay_settings", false, verr.Error())
		} else {
			add("relay_settings", true, fmt.Sprintf("enabled=%t destinations=%d", settings.Enabled, len(settings.Destinations)))
		}
	}

	lockPath := lock.PathIn(cfg.State.Dir)
	held, err := lock.Held(lockPath)
	switch {
	case err != nil:
		add("pid_lock", false, err.Error())
	case held:
		report.Running = true
		detail := lockPath
		if pid, perr := lock.ReadPID(lockPath); perr == nil {
			detail = fmt.Sprintf("held by pid %d", pid)
		}
		add("pid_lock", true, detail)
	default:
		add("pid_lock", true, "not running")
	}

	if report.Running {
		url := localURL(cfg.Server.Listen) + "/healthz"
		client := &http.Client{Timeout: 2 * time.Second}
		resp, err := client.Get(url)
		if err != nil {
			add("http", false, err.Error())
		} else {
			_ = resp.Body.Close()
			add("http", resp.StatusCode == http.StatusOK, fmt.Sprintf("%s -> %d", url, resp.StatusCode))
		}
	}

	return printStatus(report, *jsonOut)
}

func printStatus(report statusReport, jsonOut bool) int {
	if jsonOut {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render status JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	} else {
		for _, c := range report.Checks {
			mark := "OK"
			if !c.OK {
				mark = "FAIL"
			}
			if c.Detail != "" {
				fmt.Printf("%s: %s (%s)\n", c.Name, mark, c.Detail)
			} else {
				fmt.Printf("%s: %s\n", c.Name, mark)
			}
		}
		if report.Healthy {
			fmt.Println("Status: healthy")
		} else {
			fmt.Println("Status: unhealthy")
		}
	}
	if !report.Healthy {
		return 1
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	apiURL := fs.String("url", "", "Relay base URL")
	user := fs.String("user", "", "Admin username")
	pass := fs.String("pass", "", "Admin password")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *apiURL == "" {
		*apiURL = localURL(cfg.Server.Listen)
	}
	if *user == "" {
		*user = cfg.Admin.Username
	}
	if *pass == "" {
		*pass = cfg.Admin.Password
	}

	m := watch.New(*apiURL, *user, *pass)
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	settings, err := readPersistedSettings(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay settings error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg, settings).Validate()
	if jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output JSON instead of YAML")
	relayOut := fs.Bool("relay", false, "Show persisted relay settings")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *relayOut {
		settings, err := readPersistedSettings(context.Background(), cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Relay settings error: %v\n", err)
			return 1
		}
		if settings == nil {
			d := state.DefaultSettings()
			settings = &d
		}
		if settings.Secret != "" {
			settings.Secret = "********"
		}
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	data, err := cfg.Redacted().YAML()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
		return 1
	}
	if !*jsonOut {
		fmt.Print(string(data))
		return 0
	}

	// Round-trip through YAML so JSON keys match the config file.
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
		return 1
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Render error: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}
