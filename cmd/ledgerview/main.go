package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ledgerview/ledgerview/internal/api"
	"github.com/ledgerview/ledgerview/internal/browser"
	"github.com/ledgerview/ledgerview/internal/config"
	"github.com/ledgerview/ledgerview/internal/credstore"
	"github.com/ledgerview/ledgerview/internal/log"
	"github.com/ledgerview/ledgerview/internal/session"
	"github.com/ledgerview/ledgerview/internal/ui"
)

var BuildVersion = "dev"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"signInUrl":         "https://accounts.yourbank.com/sign-in",
		"apiBaseUrl":        "https://yourbank.com/api/mobile/",
		"browserIdentifier": "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"encryptionKey":     map[string]string{"$env": "LEDGERVIEW_ENCRYPTION_KEY"},
		"extractionTimeout": "2m",
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func buildStore(cfg config.Config) (credstore.Store, error) {
	if cfg.Ephemeral {
		return credstore.NewMemoryStore(), nil
	}
	return credstore.NewFileStore(cfg.StateDir, string(cfg.EncryptionKey))
}

func main() {
	conf := pflag.String("config", "", "path to config file (required)")
	version := pflag.Bool("version", false, "print version and exit")
	configInit := pflag.String("config-init", "", "generate default config file at specified path")
	ephemeral := pflag.Bool("ephemeral", false, "keep the credential in memory only, never on disk")
	signOut := pflag.Bool("sign-out", false, "clear the stored credential and exit")
	pflag.Parse()

	if *version {
		fmt.Println(BuildVersion)
		return
	}
	if *configInit != "" {
		if err := generateDefaultConfig(*configInit); err != nil {
			log.LogError("Failed to generate config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("Generated default config at: %s\n", *configInit)
		return
	}
	if *conf == "" {
		fmt.Fprintf(os.Stderr, "Error: --config flag is required\n")
		os.Exit(1)
	}

	cfg, err := config.Load(*conf)
	if err != nil {
		log.LogError("Failed to load config: %v", err)
		os.Exit(1)
	}
	if *ephemeral {
		cfg.Ephemeral = true
	}

	store, err := buildStore(cfg)
	if err != nil {
		log.LogError("Failed to open credential store: %v", err)
		os.Exit(1)
	}

	if *signOut {
		if err := store.Clear(context.Background()); err != nil {
			log.LogError("Failed to clear credential: %v", err)
			os.Exit(1)
		}
		fmt.Println("Signed out.")
		return
	}

	apiBaseURL := cfg.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = api.DefaultBaseURL
	}

	log.LogInfoWithFields("main", "Starting ledgerview", map[string]any{
		"version":   BuildVersion,
		"config":    *conf,
		"ephemeral": cfg.Ephemeral,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Each sign-in attempt gets a fresh shell over the same persistent
	// profile, so the provider's cookies survive restarts.
	newShell := func(ctx context.Context) (browser.Shell, error) {
		profileDir := ""
		if !cfg.Ephemeral {
			profileDir = filepath.Join(cfg.StateDir, "browser-profile")
		}
		return browser.NewChromeShell(ctx, browser.Options{
			UserAgent:  cfg.BrowserIdentifier,
			ProfileDir: profileDir,
			Headless:   cfg.Headless,
		})
	}

	controller := session.New(session.Config{
		Store:             store,
		NewShell:          newShell,
		SignInURL:         cfg.SignInURL,
		ExtractionTimeout: cfg.ExtractionTimeout,
	})

	model := ui.New(ui.Config{
		Controller: controller,
		APIBaseURL: apiBaseURL,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	controller.SetDispatcher(ui.ProgramDispatcher{Program: program})
	controller.OnAuthenticated(func(token string) {
		program.Send(ui.AuthenticatedMsg{Token: token})
	})
	controller.OnStateChange(func(state session.State) {
		program.Send(ui.StateChangedMsg{State: state})
	})
	controller.OnNotice(func(notice session.Notice) {
		program.Send(ui.NoticeMsg{Notice: notice})
	})

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return controller.Run(groupCtx)
	})
	group.Go(func() error {
		defer stop()
		_, err := program.Run()
		return err
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, tea.ErrProgramKilled) {
		log.LogError("ledgerview exited with error: %v", err)
		os.Exit(1)
	}
}
