package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"photowatch/internal/downloader"
	"photowatch/pkg/auth"
	"photowatch/pkg/backend"
	"photowatch/pkg/config"
	"photowatch/pkg/logger"
	"photowatch/pkg/page"
	"photowatch/pkg/transfer"
	"photowatch/pkg/watcher"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	targetURL  = flag.String("url", "", "Photo page URL to watch")
	interval   = flag.Duration("interval", 0, "Check interval between cycles")
	photoDir   = flag.String("photo-dir", "", "Local directory for downloaded photos")
	ledgerPath = flag.String("ledger", "", "Path to the download history ledger")
	workers    = flag.Int("workers", 0, "Number of concurrent delivery workers")
	headless   = flag.Bool("headless", true, "Run the browser headless")
	freshStart = flag.Bool("fresh-start", false, "Discard delivery history and start over")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	authSetup  = flag.Bool("auth-setup", false, "Interactively store Dropbox credentials and exit")
	authGuide  = flag.Bool("auth-guide", false, "Print the Dropbox credential setup guide and exit")
)

func main() {
	flag.Parse()

	if *authGuide {
		auth.ShowDropboxSetupGuide()
		return
	}
	if *authSetup {
		if err := runAuthSetup(); err != nil {
			fmt.Fprintf(os.Stderr, "credential setup failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Build command line flags map
	flags := make(map[string]interface{})
	if *targetURL != "" {
		flags["url"] = *targetURL
	}
	if *interval > 0 {
		flags["interval"] = *interval
	}
	if *photoDir != "" {
		flags["photo-dir"] = *photoDir
	}
	if *ledgerPath != "" {
		flags["ledger"] = *ledgerPath
	}
	if *workers > 0 {
		flags["workers"] = *workers
	}
	if *freshStart {
		flags["fresh-start"] = true
	}
	flags["headless"] = *headless
	if *logLevel != "" {
		flags["log-level"] = *logLevel
	}

	// Load configuration
	cfg, err := config.Load(*configFile, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.GetLogger()
	log.WithField("url", cfg.Target.URL).Info("Photo watcher starting")

	// Fill Dropbox credentials from the secure store when the config
	// carries none.
	if cfg.Storage.Dropbox.Enabled && cfg.Storage.Dropbox.RefreshToken == "" && cfg.Storage.Dropbox.AccessToken == "" {
		if manager, err := auth.NewManager(); err == nil {
			if account, err := manager.RetrieveDefault(); err == nil {
				cfg.Storage.Dropbox.AppKey = account.AppKey
				cfg.Storage.Dropbox.AppSecret = account.AppSecret
				cfg.Storage.Dropbox.RefreshToken = account.RefreshToken
				cfg.Storage.Dropbox.AccessToken = account.AccessToken
				log.Info("Loaded Dropbox credentials from secure store")
			}
		}
	}

	backends, err := buildBackends(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage backends")
	}

	session, err := page.NewRodSession(cfg.Browser, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to launch browser session")
	}

	fetcher := transfer.NewClient(cfg.Delivery.FetchTimeout, log)
	// CDN originals are fetched outside the browser; identify the page they
	// were linked from.
	fetcher.SetHeader("Referer", cfg.Target.URL)

	// Stop on SIGINT/SIGTERM; the watcher finishes its current item batch
	// and persists the ledger before returning.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := watcher.New(cfg, session, fetcher, backends, log)
	runErr := w.Run(ctx)

	if err := session.Close(); err != nil {
		log.WithError(err).Warn("Failed to close browser session")
	}

	if runErr != nil {
		log.WithError(runErr).Error("Watcher terminated")
		os.Exit(1)
	}

	log.Info("Photo watcher stopped")
}

// buildBackends constructs every enabled storage backend.
func buildBackends(cfg *config.Config, log logger.Logger) ([]backend.Backend, error) {
	var backends []backend.Backend

	if cfg.Storage.Local.Enabled {
		local, err := backend.NewLocal(cfg.Storage.Local, log)
		if err != nil {
			return nil, fmt.Errorf("local backend: %w", err)
		}
		backends = append(backends, local)
	}

	if cfg.Storage.Dropbox.Enabled {
		dropbox, err := backend.NewDropbox(cfg.Storage.Dropbox, log)
		if err != nil {
			return nil, fmt.Errorf("dropbox backend: %w", err)
		}
		backends = append(backends, dropbox)
	}

	return backends, nil
}

// ensure the fetcher satisfies the pool contract
var _ downloader.Fetcher = (*transfer.Client)(nil)

// runAuthSetup interactively collects and stores Dropbox credentials.
func runAuthSetup() error {
	auth.ShowQuickSetupGuide()
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	appKey, err := promptLine(reader, "App key: ")
	if err != nil {
		return err
	}
	appSecret, err := promptSecret(reader, "App secret: ")
	if err != nil {
		return err
	}
	refreshToken, err := promptSecret(reader, "Refresh token: ")
	if err != nil {
		return err
	}

	account := &auth.Account{
		Label:        "default",
		AppKey:       appKey,
		AppSecret:    appSecret,
		RefreshToken: refreshToken,
		LastModified: time.Now(),
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	if err := manager.Store(account); err != nil {
		return err
	}

	fmt.Println("\n✓ Dropbox credentials stored securely")
	return nil
}

// promptLine reads a visible line from stdin.
func promptLine(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptSecret reads a line without echoing when stdin is a terminal.
func promptSecret(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)

	if term.IsTerminal(int(syscall.Stdin)) {
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}

	// Piped input (scripts)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
