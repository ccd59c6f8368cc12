// ABOUTME: Entry point for saiverse-bot, the bot-side gateway server
// ABOUTME: Serves host WebSocket connections and provides session and binding admin commands

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
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/maha0525/SAIVerse-sub002/internal/auth"
	"github.com/maha0525/SAIVerse-sub002/internal/config"
	"github.com/maha0525/SAIVerse-sub002/internal/gateway"
	"github.com/maha0525/SAIVerse-sub002/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
           _                               _           _
 ___  __ _(_)_   _____ _ __ ___  ___      | |__   ___ | |_
/ __|/ _' | \ \ / / _ \ '__/ __|/ _ \_____| '_ \ / _ \| __|
\__ \ (_| | |\ V /  __/ |  \__ \  __/_____| |_) | (_) | |_
|___/\__,_|_| \_/ \___|_|  |___/\___|     |_.__/ \___/ \__|
`

// getConfigPath returns the path to the bot config file.
// Priority: SAIVERSE_BOT_CONFIG env var > XDG_CONFIG_HOME/saiverse/bot.yaml > ~/.config/saiverse/bot.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SAIVERSE_BOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "bot.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "saiverse", "bot.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: saiverse-bot <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                        Start the gateway server")
		fmt.Println("  authorize [--label L]        Issue a session token via OAuth")
		fmt.Println("  revoke --token T | --user U  Revoke session tokens")
		fmt.Println("  cleanup                      Remove expired OAuth states and sessions")
		fmt.Println("  bind --channel C ...         Bind a channel to a city and building")
		fmt.Println("  health                       Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "authorize":
		err = runAuthorize(ctx, args)
	case "revoke":
		err = runRevoke(ctx, args)
	case "cleanup":
		err = runCleanup(ctx)
	case "bind":
		err = runBind(ctx, args)
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
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Listen:    %s%s\n", cfg.Server.Addr(), cfg.Server.WSPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.TLS.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("TLS:       %s", cfg.TLS.CertFile)
		if cfg.TLS.ClientAuth != config.ClientAuthNone {
			yellow.Printf(" [client auth: %s]", cfg.TLS.ClientAuth)
		}
		fmt.Println()
	}
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Platform.IngressSecret == "" {
		yellow.Println("    ! platform ingress disabled (no ingress_secret)")
	}
	fmt.Println()

	logger.Info("starting saiverse-bot",
		"config", configPath,
		"addr", cfg.Server.Addr(),
		"ws_path", cfg.Server.WSPath,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// openAuth opens the store and an auth service for the admin subcommands.
func openAuth(cfg *config.Config, logger *slog.Logger) (*auth.Service, *store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	provider := auth.ProviderConfig{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		AuthorizeURL: cfg.OAuth.AuthorizeURL,
		TokenURL:     cfg.OAuth.TokenURL,
		IdentityURL:  cfg.OAuth.IdentityURL,
	}
	svc := auth.NewService(auth.ServiceConfig{
		Provider:    provider,
		RedirectURI: cfg.OAuth.RedirectURI,
		Scopes:      cfg.OAuth.Scopes,
		StateTTL:    cfg.OAuth.StateTTL,
		TokenLength: cfg.Session.TokenLength,
		TokenPepper: []byte(cfg.Session.TokenPepper),
		SessionTTL:  cfg.Session.TTL,
	}, s, auth.NewHTTPProviderClient(provider, nil), logger)

	return svc, s, nil
}

func loadAdmin() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	// admin commands only log warnings and above
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: cfg.Logging.Format})
	return cfg, logger, nil
}

// runAuthorize performs the OAuth flow from the terminal: print the platform
// URL, read back the code and state from the redirect, and issue a token.
func runAuthorize(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("authorize", flag.ContinueOnError)
	label := fs.String("label", "", "label stored with the session")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logger, err := loadAdmin()
	if err != nil {
		return err
	}
	svc, s, err := openAuth(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	authz, err := svc.BeginAuthorization(ctx, "", nil)
	if err != nil {
		return fmt.Errorf("starting authorization: %w", err)
	}

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	fmt.Println("  Open this URL and approve access:")
	fmt.Println()
	cyan.Printf("  %s\n", authz.AuthorizeURL)
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	code := prompt(reader, "  Code from the redirect", "")
	if code == "" {
		return fmt.Errorf("code is required")
	}
	state := prompt(reader, "  State from the redirect", authz.State)

	issued, err := svc.CompleteAuthorization(ctx, code, state, *label)
	if err != nil {
		return fmt.Errorf("completing authorization: %w", err)
	}

	fmt.Println()
	green.Println("  ✓ Session token issued")
	fmt.Println()
	fmt.Printf("  User:    %s\n", issued.DiscordUserID)
	fmt.Printf("  Session: %d\n", issued.SessionID)
	fmt.Printf("  Expires: %s\n", issued.ExpiresAt.Format("Jan 02, 2006"))
	fmt.Printf("  Token:   %s\n", issued.Token)
	fmt.Println()
	yellow.Println("  The token is shown once. Put it in the host config as gateway.token.")
	fmt.Println()
	return nil
}

func runRevoke(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	token := fs.String("token", "", "raw session token to revoke")
	user := fs.String("user", "", "revoke every session of this platform user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*token == "") == (*user == "") {
		return fmt.Errorf("exactly one of --token or --user is required")
	}

	cfg, logger, err := loadAdmin()
	if err != nil {
		return err
	}
	svc, s, err := openAuth(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	if *token != "" {
		ok, err := svc.RevokeToken(ctx, *token)
		if err != nil {
			return fmt.Errorf("revoking token: %w", err)
		}
		if !ok {
			return fmt.Errorf("no active session for that token")
		}
		fmt.Println("revoked 1 session")
		return nil
	}

	n, err := svc.RevokeTokensForUser(ctx, *user)
	if err != nil {
		return fmt.Errorf("revoking sessions: %w", err)
	}
	fmt.Printf("revoked %d session(s)\n", n)
	return nil
}

func runCleanup(ctx context.Context) error {
	cfg, logger, err := loadAdmin()
	if err != nil {
		return err
	}
	svc, s, err := openAuth(cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := svc.CleanupArtifacts(ctx)
	if err != nil {
		return fmt.Errorf("cleaning up: %w", err)
	}
	fmt.Printf("removed %d oauth state(s), %d session(s)\n", res.OAuthStates, res.Sessions)
	return nil
}

func runBind(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("bind", flag.ContinueOnError)
	channel := fs.String("channel", "", "platform channel id")
	city := fs.String("city", "", "city id")
	building := fs.String("building", "", "building id")
	host := fs.String("host", "", "platform user id of the owning host")
	roles := fs.String("roles", "", "comma separated role ids allowed to speak")
	invite := fs.Bool("invite-required", false, "require an invitation for non-role members")
	remove := fs.Bool("remove", false, "delete the binding instead")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *channel == "" {
		return fmt.Errorf("--channel is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	if *remove {
		if err := s.DeleteBinding(ctx, *channel); err != nil {
			return fmt.Errorf("deleting binding: %w", err)
		}
		fmt.Printf("unbound %s\n", *channel)
		return nil
	}

	if *city == "" || *building == "" || *host == "" {
		return fmt.Errorf("--city, --building and --host are required")
	}

	b := &store.ChannelBinding{
		ChannelID:      *channel,
		CityID:         *city,
		BuildingID:     *building,
		HostUserID:     *host,
		AllowedRoles:   splitList(*roles),
		InviteRequired: *invite,
	}
	if err := s.UpsertBinding(ctx, b); err != nil {
		return fmt.Errorf("saving binding: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Bound %s to %s/%s (host %s)\n", b.ChannelID, b.CityID, b.BuildingID, b.HostUserID)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	scheme := "http"
	if cfg.TLS.Enabled {
		scheme = "https"
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s://%s:%d/health", scheme, host, cfg.Server.Port)
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

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
