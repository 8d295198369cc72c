package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flatdario/flat/app/aggregator"
	"github.com/flatdario/flat/app/api"
	"github.com/flatdario/flat/app/cfg"
	"github.com/flatdario/flat/app/collector"
	"github.com/flatdario/flat/app/database"
	"github.com/flatdario/flat/app/enrich"
	"github.com/flatdario/flat/app/push"
	"github.com/flatdario/flat/app/site"
)

// env holds the wiring shared by the subcommands.
type env struct {
	cfg     *cfg.Cfg
	db      *database.DB
	items   *database.ItemRepository
	subs    *database.SubscriptionRepository
	fetcher *collector.Fetcher
	scraper *enrich.Scraper
}

func newEnv() (*env, error) {
	c, err := cfg.Load(&options)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := database.NewConnection(c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	fetcher := collector.NewFetcher(&http.Client{Timeout: c.Timeout}, c.UserAgent, c.Timeout)

	return &env{
		cfg:     c,
		db:      db,
		items:   database.NewItemRepository(db),
		subs:    database.NewSubscriptionRepository(db),
		fetcher: fetcher,
		scraper: enrich.NewScraper(fetcher),
	}, nil
}

func (rt *env) close() {
	if err := rt.db.Close(); err != nil {
		slog.Warn("Failed to close database", "error", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// aggregator builds the batch runner. Without interactive consent a source
// lacking a stored token fails with an authentication error instead of
// waiting for the user.
func (rt *env) aggregator(interactive bool) (*aggregator.Aggregator, error) {
	sources, err := cfg.LoadSources(rt.cfg.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}

	var authorizer collector.Authorizer
	if interactive {
		authorizer = collector.NewBrowserAuthorizer()
	}

	collectors := aggregator.Registry(sources, aggregator.Deps{
		Keys:       collector.KeyStore{Dir: rt.cfg.KeysDir},
		Authorizer: authorizer,
		Fetcher:    rt.fetcher,
	})

	return aggregator.New(rt.items, collectors, enrich.NewEnricher(rt.items, rt.scraper)), nil
}

func (rt *env) collect(refresh bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	agg, err := rt.aggregator(true)
	if err != nil {
		rt.close()
		return err
	}

	_, err = agg.Run(ctx, refresh, rt.db)
	return err
}

func (rt *env) enrich() error {
	ctx, cancel := signalContext()
	defer cancel()

	_, err := enrich.NewEnricher(rt.items, rt.scraper).Run(ctx)
	return err
}

func (rt *env) build() error {
	generator := site.NewGenerator(rt.cfg.BaseURL, rt.cfg.Version)
	_, err := site.NewBuilder(rt.items, rt.cfg.OutputDir, generator).Build(context.Background())
	return err
}

func (rt *env) add(urls []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	result := collector.Sync(ctx, collector.NewManual(urls, rt.fetcher, rt.scraper), rt.items, false)
	if result.Err != nil {
		return result.Err
	}

	slog.Info("URLs processed", "added", result.Added, "already_stored", result.Stopped)
	return nil
}

func (rt *env) broadcaster() *push.Broadcaster {
	if !rt.cfg.PushEnabled() {
		return nil
	}
	sender := push.NewWebPushSender(rt.cfg.VAPIDPublicKey, rt.cfg.VAPIDPrivateKey, rt.cfg.VAPIDSubscriber, rt.fetcher.Client())
	return push.NewBroadcaster(rt.subs, rt.items, sender)
}

func (rt *env) notify() error {
	b := rt.broadcaster()
	if b == nil {
		return errors.New("push notifications need both VAPID keys")
	}

	ctx, cancel := signalContext()
	defer cancel()

	_, err := b.SendMissing(ctx)
	return err
}

func (rt *env) announce(n push.Notification) error {
	b := rt.broadcaster()
	if b == nil {
		return errors.New("push notifications need both VAPID keys")
	}

	ctx, cancel := signalContext()
	defer cancel()

	_, err := b.Broadcast(ctx, n)
	return err
}

// notifyingBatcher pushes notifications after every batch that added items.
type notifyingBatcher struct {
	agg         *aggregator.Aggregator
	broadcaster *push.Broadcaster
}

func (n notifyingBatcher) Batch(ctx context.Context, refresh bool) aggregator.Summary {
	summary := n.agg.Batch(ctx, refresh)
	if n.broadcaster != nil && summary.Added > 0 {
		if _, err := n.broadcaster.SendMissing(ctx); err != nil {
			slog.Error("Failed to send notifications", "batch_id", summary.ID, "error", err)
		}
	}
	return summary
}

func (rt *env) serve() error {
	agg, err := rt.aggregator(false)
	if err != nil {
		return err
	}

	broadcaster := rt.broadcaster()
	scheduler := aggregator.NewScheduler(notifyingBatcher{agg: agg, broadcaster: broadcaster}, rt.cfg.Interval)
	scheduler.Start()
	defer scheduler.Stop()

	var notifier api.Notifier
	if broadcaster != nil {
		notifier = broadcaster
	}

	handler := api.NewHandler(rt.items, rt.subs, site.NewGenerator(rt.cfg.BaseURL, rt.cfg.Version),
		collector.NewManual(nil, rt.fetcher, rt.scraper), scheduler, notifier, rt.cfg.VAPIDPublicKey)
	server := api.NewServer(handler, rt.cfg.APIAccessKey, rt.cfg.Version)

	httpServer := &http.Server{
		Addr:         ":" + rt.cfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", rt.cfg.Port, "version", rt.cfg.Version)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	return nil
}
