package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sitelens/sitelens/internal/api"
	"github.com/sitelens/sitelens/internal/browser"
	"github.com/sitelens/sitelens/internal/config"
	"github.com/sitelens/sitelens/internal/crawl"
	"github.com/sitelens/sitelens/internal/events"
	"github.com/sitelens/sitelens/internal/hub"
	"github.com/sitelens/sitelens/internal/logger"
	"github.com/sitelens/sitelens/internal/orchestrator"
	"github.com/sitelens/sitelens/internal/screenshot"
	"github.com/sitelens/sitelens/internal/session"
	"github.com/sitelens/sitelens/internal/sitecache"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	verbose    bool

	// Serve flags
	listenAddr string

	// Crawl flags
	maxDepth        int
	maxPages        int
	excludePatterns []string
	siteID          string
	fullMode        bool
	username        string
	password        string
	outputDir       string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sitelens",
		Short: "SiteLens - Visual Sitemap Crawler",
		Long: `SiteLens crawls a website with a headless browser, captures a screenshot
of every page and builds an interactive sitemap graph of the site's
internal link structure.`,
		Version: version,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl server",
		Long:  "Run the HTTP API, the WebSocket event stream and the crawl pipeline.",
		RunE:  runServe,
	}

	crawlCmd := &cobra.Command{
		Use:   "crawl [target]",
		Short: "Crawl a site once and exit",
		Long:  "Run a single crawl against a target URL, streaming progress to the log.",
		Args:  cobra.ExactArgs(1),
		RunE:  runCrawl,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address (overrides config)")

	crawlCmd.Flags().IntVarP(&maxDepth, "max-depth", "d", 2, "Maximum crawl depth")
	crawlCmd.Flags().IntVarP(&maxPages, "max-pages", "n", 100, "Maximum number of pages")
	crawlCmd.Flags().StringArrayVar(&excludePatterns, "exclude", nil, "URL patterns to exclude (regex)")
	crawlCmd.Flags().StringVar(&siteID, "site-id", "", "Site identifier for caching and diffing")
	crawlCmd.Flags().BoolVar(&fullMode, "full", false, "Re-capture every screenshot, ignoring the cache")
	crawlCmd.Flags().StringVarP(&username, "username", "u", "", "Basic-auth username")
	crawlCmd.Flags().StringVarP(&password, "password", "p", "", "Basic-auth password")
	crawlCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Screenshot directory (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(crawlCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if configFile != "" {
		if err := cfg.LoadFile(configFile); err != nil {
			return nil, err
		}
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if listenAddr != "" {
		cfg.Addr = listenAddr
	}
	if outputDir != "" {
		cfg.ScreenshotDir = outputDir
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	return logger.New(logger.Config{Level: level, Pretty: cfg.LogPretty || verbose}), nil
}

// buildPipeline assembles the crawl stack shared by both commands.
func buildPipeline(cfg *config.Config, log *logger.Logger, sink events.Sink) (*orchestrator.Orchestrator, *session.Manager, *browser.Engine, *screenshot.Engine, *sitecache.Store, error) {
	engine := browser.NewEngine(browserConfig(cfg), log)

	shots := screenshot.NewEngine(engine, screenshot.Config{
		Dir:         cfg.ScreenshotDir,
		RenderDelay: time.Second,
		BatchDelay:  200 * time.Millisecond,
	}, log)
	if err := shots.Init(); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	store, err := sitecache.Open(cfg.CacheDB, log)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}

	sessions := session.NewManager(log)
	orch := orchestrator.New(orchestrator.Deps{
		Sessions: sessions,
		NewFetcher: func(target string, auth *crawl.BasicAuth) (orchestrator.Fetcher, error) {
			engine.SetAuth(auth)
			return browser.NewFetcher(engine, target)
		},
		Shots:      shots,
		Cache:      store,
		Sink:       sink,
		Log:        log,
		FetchDelay: cfg.FetchDelay,
	})

	return orch, sessions, engine, shots, store, nil
}

func browserConfig(cfg *config.Config) browser.Config {
	bc := browser.DefaultConfig()
	bc.Headless = cfg.Browser.Headless
	if cfg.Browser.NavTimeout > 0 {
		bc.NavTimeout = cfg.Browser.NavTimeout
	}
	if cfg.Browser.SettleDelay > 0 {
		bc.SettleDelay = cfg.Browser.SettleDelay
	}
	if cfg.Browser.ViewportWidth > 0 {
		bc.ViewportWidth = cfg.Browser.ViewportWidth
	}
	if cfg.Browser.ViewportHeight > 0 {
		bc.ViewportHeight = cfg.Browser.ViewportHeight
	}
	if cfg.Browser.UserAgent != "" {
		bc.UserAgent = cfg.Browser.UserAgent
	}
	if cfg.Browser.SoftErrorMinLen > 0 {
		bc.SoftErrorMinLen = cfg.Browser.SoftErrorMinLen
	}
	return bc
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	wsHub := hub.NewHub(log)
	orch, sessions, engine, shots, store, err := buildPipeline(cfg, log, wsHub)
	if err != nil {
		return err
	}
	defer store.Close()
	defer engine.Close()

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: api.NewServer(orch, sessions, shots, wsHub.HandleWebSocket, shots.Dir(), log),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown did not finish cleanly")
	}
	wsHub.Close()
	return nil
}

func runCrawl(cmd *cobra.Command, args []string) error {
	target := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	orch, sessions, engine, _, store, err := buildPipeline(cfg, log, logSink(log))
	if err != nil {
		return err
	}
	defer store.Close()
	defer engine.Close()

	crawlCfg := crawl.Config{
		URL:             target,
		MaxDepth:        maxDepth,
		MaxPages:        maxPages,
		ExcludePatterns: excludePatterns,
		SiteID:          siteID,
	}
	if fullMode {
		crawlCfg.Mode = crawl.ModeFull
	}
	if username != "" {
		crawlCfg.Auth = &crawl.BasicAuth{Username: username, Password: password}
	}
	if err := crawlCfg.Validate(); err != nil {
		return err
	}
	crawlCfg.Clamp()

	s := sessions.Create(crawlCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, stopping crawl...")
		sessions.Cancel(s.ID)
		cancel()
	}()

	start := time.Now()
	orch.Run(ctx, s.ID)

	final := sessions.Snapshot(s.ID)
	progress := sessions.Progress(s.ID)
	fmt.Println()
	fmt.Printf("Status:        %s\n", final.Status)
	fmt.Printf("Pages:         %d\n", progress.Crawled)
	fmt.Printf("Screenshots:   %d\n", progress.Screenshotted)
	fmt.Printf("Errors:        %d\n", len(final.Errors))
	fmt.Printf("Duration:      %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("Output:        %s\n", cfg.ScreenshotDir)

	if final.Status == session.StatusError {
		return fmt.Errorf("crawl failed: %v", final.Errors)
	}
	return nil
}

// logSink streams crawl events to the console for one-shot runs.
func logSink(log *logger.Logger) events.Sink {
	l := log.WithComponent("crawl")
	return events.SinkFunc(func(ev events.Event) {
		switch ev.Type {
		case events.TypePageDiscovered:
			l.PageEvent(ev.Page.URL, ev.Page.Depth, "page discovered")
		case events.TypeScreenshotReady:
			l.WithURL(ev.Screenshot.URL).Debugf("screenshot ready: %s", ev.Screenshot.Thumbnail)
		case events.TypeCrawlDiff:
			l.Infof("diff vs previous crawl: %d new, %d deleted, %d modified",
				len(ev.Diff.NewPages), len(ev.Diff.DeletedPages), len(ev.Diff.ModifiedPages))
		case events.TypeCrawlError:
			l.WithURL(ev.Error.URL).Warnf("crawl error: %s", ev.Error.Message)
		case events.TypeCrawlComplete:
			l.Infof("crawl complete: %d pages in %dms", ev.Complete.TotalPages, ev.Complete.DurationMS)
		}
	})
}
