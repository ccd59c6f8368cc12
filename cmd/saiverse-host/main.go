// ABOUTME: Entry point for saiverse-host, the reference host-side gateway client
// ABOUTME: Connects to saiverse-bot and runs the orchestrator against the SQLite host adapter

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/maha0525/SAIVerse-sub002/internal/client"
	"github.com/maha0525/SAIVerse-sub002/internal/config"
	"github.com/maha0525/SAIVerse-sub002/internal/hostadapter"
	"github.com/maha0525/SAIVerse-sub002/internal/memsync"
	"github.com/maha0525/SAIVerse-sub002/internal/orchestrator"
	"github.com/maha0525/SAIVerse-sub002/internal/runtime"
	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

const banner = `
           _                               _               _
 ___  __ _(_)_   _____ _ __ ___  ___      | |__   ___  ___| |_
/ __|/ _' | \ \ / / _ \ '__/ __|/ _ \_____| '_ \ / _ \/ __| __|
\__ \ (_| | |\ V /  __/ |  \__ \  __/_____| | | | (_) \__ \ |_
|___/\__,_|_| \_/ \___|_|  |___/\___|     |_| |_|\___/|___/\__|
`

const statusInterval = time.Minute

// getConfigPath returns the path to the host config file.
// Priority: SAIVERSE_HOST_CONFIG env var > XDG_CONFIG_HOME/saiverse/host.toml > ~/.config/saiverse/host.toml
func getConfigPath() string {
	if envPath := os.Getenv("SAIVERSE_HOST_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "host.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "saiverse", "host.toml")
}

func main() {
	var err error
	switch {
	case len(os.Args) > 1 && os.Args[1] == "init":
		err = runInit()
	case len(os.Args) > 1 && os.Args[1] == "bind":
		err = runBind(os.Args[2:])
	default:
		err = run()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()

	cfg, err := config.LoadHost(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Gateway:  %s\n", cfg.Gateway.URL)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	if cfg.Gateway.CertFile != "" {
		green.Print("    ▶ ")
		fmt.Println("Client certificate: enabled")
	}
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	svcCfg, err := client.ServiceConfigFromHost(cfg.Gateway)
	if err != nil {
		return fmt.Errorf("building client config: %w", err)
	}
	svc := client.NewService(svcCfg, client.StaticToken(cfg.Gateway.Token), logger)

	visitors := orchestrator.NewVisitorRegistry()
	adapter := hostadapter.New(st, visitors, memsync.NewExporter(cfg.Memory.ChunkSize), logger)
	orch := orchestrator.New(adapter, st, svc, logger, orchestrator.WithVisitors(visitors))

	rt := runtime.New(runtime.Components{
		Service: svc,
		Consumer: func(ctx context.Context) error {
			return orch.Run(ctx, svc.Inbound())
		},
		Orchestrator: orch,
	}, logger)

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("starting runtime: %w", err)
	}
	defer rt.Stop()

	logger.Info("host running", "gateway", cfg.Gateway.URL)

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			err := rt.Call(cfg.Runtime.CallTimeout, func(context.Context) error {
				logger.Info("status",
					"connected", svc.Connected(),
					"session_id", svc.SessionID(),
					"visitors", visitors.Len(),
				)
				return nil
			})
			if err != nil {
				logger.Warn("status check failed", "error", err)
			}
		}
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := getConfigPath()
	reader := bufio.NewReader(os.Stdin)

	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	ask := func(question, defaultVal string) string {
		green.Print("    ▶ ")
		if defaultVal != "" {
			fmt.Printf("%s [%s]: ", question, defaultVal)
		} else {
			fmt.Printf("%s: ", question)
		}
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return defaultVal
		}
		return answer
	}

	gatewayURL := ask("Gateway URL", "ws://localhost:8765/ws")
	token := ask("Session token (from saiverse-bot authorize)", "")
	dbPath := ask("Database path", "saiverse-host.db")
	caFile := ask("CA certificate file (optional, for wss)", "")

	var b strings.Builder
	b.WriteString("# saiverse-host configuration\n")
	b.WriteString("# Generated by saiverse-host init\n\n")
	b.WriteString("[gateway]\n")
	fmt.Fprintf(&b, "url = %q\n", gatewayURL)
	if token != "" {
		fmt.Fprintf(&b, "token = %q\n", token)
	} else {
		b.WriteString("token = \"${SAIVERSE_GATEWAY_TOKEN}\"\n")
	}
	if caFile != "" {
		fmt.Fprintf(&b, "ca_file = %q\n", caFile)
	}
	b.WriteString("heartbeat_interval = \"30s\"\n")
	b.WriteString("reconnect_initial_delay = \"1s\"\n")
	b.WriteString("reconnect_max_delay = \"60s\"\n")
	b.WriteString("\n[memory]\n")
	b.WriteString("chunk_size = 65536\n")
	b.WriteString("\n[database]\n")
	fmt.Fprintf(&b, "path = %q\n", dbPath)
	b.WriteString("\n[logging]\n")
	b.WriteString("level = \"info\"\n")

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: saiverse-host")
	fmt.Println()

	return nil
}

// runBind records a channel binding in the host database. The orchestrator
// only handles messages from channels bound here.
func runBind(args []string) error {
	fs := flag.NewFlagSet("bind", flag.ContinueOnError)
	channel := fs.String("channel", "", "platform channel id")
	city := fs.String("city", "", "city id")
	building := fs.String("building", "", "building id")
	host := fs.String("host", "", "platform user id of this host")
	roles := fs.String("roles", "", "comma separated role ids allowed to speak")
	invite := fs.Bool("invite-required", false, "require an invitation for non-role members")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *channel == "" || *city == "" || *building == "" || *host == "" {
		return fmt.Errorf("--channel, --city, --building and --host are required")
	}

	cfg, err := config.LoadHost(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	var allowed []string
	for _, r := range strings.Split(*roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			allowed = append(allowed, r)
		}
	}

	b := &store.ChannelBinding{
		ChannelID:      *channel,
		CityID:         *city,
		BuildingID:     *building,
		HostUserID:     *host,
		AllowedRoles:   allowed,
		InviteRequired: *invite,
	}
	if err := st.UpsertBinding(context.Background(), b); err != nil {
		return fmt.Errorf("saving binding: %w", err)
	}

	color.New(color.FgGreen).Printf("    ✓ Bound %s to %s/%s\n", b.ChannelID, b.CityID, b.BuildingID)
	return nil
}
