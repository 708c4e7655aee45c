// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/autobrr/abbot/internal/api"
	"github.com/autobrr/abbot/internal/buildinfo"
	"github.com/autobrr/abbot/internal/config"
	"github.com/autobrr/abbot/internal/dispatch"
	"github.com/autobrr/abbot/internal/domain"
	"github.com/autobrr/abbot/internal/governor"
	"github.com/autobrr/abbot/internal/metrics"
	"github.com/autobrr/abbot/internal/mirror"
	"github.com/autobrr/abbot/internal/scraper"
	"github.com/autobrr/abbot/internal/torrentclient"
)

var configDir string

func main() {
	config.InitDefaultLogger(buildinfo.Version)

	var rootCmd = &cobra.Command{
		Use:   "abbot",
		Short: "Search an audiobook listing site and send downloads to a torrent client",
		Long: `abbot - finds audiobooks through whichever listing mirror is reachable,
builds magnet links from their details pages and hands them to
qBittorrent, Transmission or Deluge.`,
		SilenceUsage: true,
	}

	rootCmd.Version = buildinfo.Version
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "",
		"config directory or file path (default is OS-specific: ~/.config/abbot/ or %APPDATA%\\abbot\\)")

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunSearchCommand())
	rootCmd.AddCommand(RunDetailsCommand())
	rootCmd.AddCommand(RunSendCommand())
	rootCmd.AddCommand(RunStatusCommand())
	rootCmd.AddCommand(RunRemoveCommand())
	rootCmd.AddCommand(RunCheckClientCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func RunServeCommand() *cobra.Command {
	var logPath string

	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
	}

	command.Flags().StringVar(&logPath, "log-path", "", "log file path (default is stderr only)")

	command.Run = func(cmd *cobra.Command, args []string) {
		app, err := NewApplication(configDir, true)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize configuration")
		}
		if logPath != "" {
			app.cfg.Config.LogPath = logPath
			app.cfg.ApplyLogConfig()
		}
		app.runServer()
	}

	return command
}

func RunSearchCommand() *cobra.Command {
	var (
		pages    int
		asJSON   bool
		category string
	)

	command := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the listing site",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(configDir, false)
			if err != nil {
				return err
			}

			books, err := app.service.Search(cmd.Context(), strings.Join(args, " "), pages)
			if err != nil {
				return err
			}

			if category != "" {
				filtered := books[:0]
				for _, b := range books {
					if b.HasCategory(category) {
						filtered = append(filtered, b)
					}
				}
				books = filtered
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), books)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TITLE\tFORMAT\tBITRATE\tSIZE\tPOSTED\tLINK")
			for _, b := range books {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", b.Title, b.Format, b.Bitrate, b.FileSize, b.PostDate, b.DetailsLink)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			cmd.Printf("%d results\n", len(books))
			return nil
		},
	}

	command.Flags().IntVar(&pages, "pages", 0, "number of listing pages to walk (default from config)")
	command.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	command.Flags().StringVar(&category, "category", "", "only keep results carrying this category")

	return command
}

func RunDetailsCommand() *cobra.Command {
	var asJSON bool

	command := &cobra.Command{
		Use:   "details <link>",
		Short: "Fetch one details page",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(configDir, false)
			if err != nil {
				return err
			}

			d, err := app.service.Details(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), d)
			}

			cmd.Printf("Title:     %s\n", d.Title)
			cmd.Printf("Author:    %s\n", d.Author)
			cmd.Printf("Narrator:  %s\n", d.Narrator)
			cmd.Printf("Language:  %s\n", d.Language)
			cmd.Printf("Format:    %s (%s)\n", d.Format, d.Bitrate)
			cmd.Printf("Size:      %s\n", d.FileSize)
			cmd.Printf("Info hash: %s\n", d.InfoHash)
			cmd.Printf("Trackers:  %d\n", len(d.Trackers))
			return nil
		},
	}

	command.Flags().BoolVar(&asJSON, "json", false, "print details as JSON")

	return command
}

func RunSendCommand() *cobra.Command {
	var title string

	command := &cobra.Command{
		Use:   "send <details link | magnet>",
		Short: "Send a book to the torrent client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(configDir, false)
			if err != nil {
				return err
			}
			defer app.close()

			var res dispatch.Result
			if strings.HasPrefix(args[0], "magnet:") {
				res = app.service.SendMagnet(cmd.Context(), args[0], title)
			} else {
				res = app.service.SendDetails(cmd.Context(), args[0], title)
			}

			if !res.OK {
				return errors.New(res.Message)
			}
			cmd.Println(res.Message)
			return nil
		},
	}

	command.Flags().StringVar(&title, "title", "", "download folder name (default is the book title)")

	return command
}

func RunStatusCommand() *cobra.Command {
	var (
		asJSON bool
		search string
	)

	command := &cobra.Command{
		Use:   "status",
		Short: "List torrents carrying the configured category",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(configDir, false)
			if err != nil {
				return err
			}
			defer app.close()

			records, err := app.service.Status(cmd.Context())
			if err != nil {
				return err
			}
			records = dispatch.FilterRecords(records, search)

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tPROGRESS\tSTATE\tSIZE")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%.2f%%\t%s\t%s\n", r.ID, r.Name, r.Progress, r.State, r.Size)
			}
			return tw.Flush()
		},
	}

	command.Flags().BoolVar(&asJSON, "json", false, "print torrents as JSON")
	command.Flags().StringVar(&search, "search", "", "only show torrents whose name matches")

	return command
}

func RunRemoveCommand() *cobra.Command {
	var purge bool

	command := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a torrent from the client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(configDir, false)
			if err != nil {
				return err
			}
			defer app.close()

			res := app.service.Delete(cmd.Context(), args[0], purge)
			if !res.OK {
				return errors.New(res.Message)
			}
			cmd.Println(res.Message)
			return nil
		},
	}

	command.Flags().BoolVar(&purge, "purge", false, "also delete downloaded data")

	return command
}

func RunCheckClientCommand() *cobra.Command {
	var password string

	command := &cobra.Command{
		Use:   "check-client",
		Short: "Verify the torrent client connection and credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(configDir, buildinfo.Version)
			if err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}
			cfg.ApplyLogConfig()

			if password != "" {
				cfg.Config.ClientPassword = password
			} else if cfg.Config.ClientPassword == "" && term.IsTerminal(int(os.Stdin.Fd())) {
				if cfg.Config.ClientPassword, err = readPassword("Enter torrent client password: "); err != nil {
					return err
				}
			}

			clientCfg, err := torrentclient.ConfigFromDomain(cfg.Config)
			if err != nil {
				return err
			}

			manager, err := torrentclient.NewManager(clientCfg)
			if err != nil {
				return err
			}
			defer manager.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), clientCfg.Timeout)
			defer cancel()

			if !manager.VerifyCredentials(ctx) {
				return errors.Errorf("could not log in to %s at %s", clientCfg.Backend, clientCfg.URL)
			}

			records, err := manager.List(ctx)
			if err != nil {
				return errors.Wrap(err, "logged in but listing torrents failed")
			}

			cmd.Printf("Connected to %s at %s, %d torrents in category %q\n", clientCfg.Backend, clientCfg.URL, len(records), manager.Category())
			return nil
		},
	}

	command.Flags().StringVar(&password, "password", "", "client password (prompts when unset and none is configured)")

	return command
}

func RunGenerateConfigCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate a default configuration file",
		Long: `Generate a default configuration file without starting the server.

If no --config-dir is specified, uses the OS-specific default location:
- Linux/macOS: ~/.config/abbot/config.toml
- Windows: %APPDATA%\abbot\config.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := config.ResolveConfigPath(configDir)

			if _, err := os.Stat(configPath); err == nil {
				cmd.Printf("Configuration file already exists at: %s\n", configPath)
				cmd.Println("Skipping generation to avoid overwriting existing configuration.")
				return nil
			}

			if err := config.WriteDefaultConfig(configPath); err != nil {
				return fmt.Errorf("failed to create configuration file: %w", err)
			}

			cmd.Printf("Configuration file created successfully at: %s\n", configPath)
			return nil
		},
	}

	return command
}

func RunVersionCommand() *cobra.Command {
	var command = &cobra.Command{
		Use:   "version",
		Short: "Print the version of abbot",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(buildinfo.String())
		},
	}

	return command
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type Application struct {
	cfg      *config.AppConfig
	metrics  *metrics.Metrics
	resolver *mirror.Resolver
	manager  *torrentclient.Manager
	service  *dispatch.Service
}

// NewApplication loads configuration and wires the scrape and client layers. Metrics are
// only collected for the long-running server.
func NewApplication(configDir string, withMetrics bool) (*Application, error) {
	cfg, err := config.New(configDir, buildinfo.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}
	cfg.ApplyLogConfig()

	app := &Application{cfg: cfg}
	if withMetrics && cfg.Config.MetricsEnabled {
		app.metrics = metrics.New()
	}

	c := cfg.Config
	gov := governor.New(c.ScraperConcurrency,
		governor.WithRateLimit(c.ScraperRateLimit),
		governor.WithMetrics(app.metrics),
	)

	registry := mirror.NewRegistry(c.SourceHostname, c.SourceScheme, c.SourceMirrors, c.UseDefaultMirrors)
	prober := mirror.NewHTTPProber(gov, app.metrics, mirror.DefaultProbeTimeout)
	app.resolver = mirror.NewResolver(registry, prober, mirror.ResolverOptions{
		Backoff: time.Duration(c.MirrorBackoff) * time.Second,
		Metrics: app.metrics,
	})

	scr := scraper.New(app.resolver, gov, scraper.Options{
		PageLimit: c.PageLimit,
		Timeout:   time.Duration(c.ScraperTimeout) * time.Second,
		Metrics:   app.metrics,
	})

	// a nil *Manager must not reach dispatch as a non-nil interface
	var client dispatch.Client
	if strings.TrimSpace(c.ClientType) != "" {
		clientCfg, err := torrentclient.ConfigFromDomain(c)
		if err != nil {
			return nil, err
		}
		app.manager, err = torrentclient.NewManager(clientCfg, torrentclient.WithMetrics(app.metrics))
		if err != nil {
			return nil, err
		}
		client = app.manager
	} else {
		log.Warn().Msg("No torrent client configured, only search and details are available")
	}

	app.service = dispatch.New(scr, client, dispatch.Options{
		SavePathBase: c.SavePathBase,
		Trackers:     cfg.ExtraTrackers,
	})

	return app, nil
}

func (app *Application) close() {
	if app.manager != nil {
		if err := app.manager.Close(); err != nil {
			log.Debug().Err(err).Msg("torrent client close failed")
		}
	}
}

func (app *Application) runServer() {
	log.Info().Str("version", buildinfo.Version).Msg("Starting abbot")

	if app.manager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if !app.manager.VerifyCredentials(ctx) {
			log.Warn().Str("backend", app.manager.Backend()).Msg("Torrent client check failed, sends will fail until it is reachable")
		}
		cancel()
	}

	app.cfg.RegisterReloadListener(func(c *domain.Config) {
		log.Info().Msg("Configuration reloaded, client and mirror changes apply after a restart")
	})

	httpServer := api.NewServer(&api.Dependencies{
		Config:   app.cfg,
		Version:  buildinfo.Version,
		Service:  app.service,
		Resolver: app.resolver,
		Metrics:  app.metrics,
	})

	errorChannel := make(chan error, 1)
	serverReady := make(chan struct{}, 1)
	go func() {
		if err := httpServer.ListenAndServeReady(serverReady); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChannel <- err
		}
	}()

	select {
	case <-serverReady:
	case err := <-errorChannel:
		log.Fatal().Err(err).Msg("failed to start HTTP server")
	}

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Msgf("got signal %v, shutting down server", sig.String())
	case err := <-errorChannel:
		log.Error().Err(err).Msg("got unexpected error from server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	exitCode := 0
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("got error during graceful http shutdown")
		exitCode = 1
	}
	app.close()

	os.Exit(exitCode)
}
