package main

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/dispatch"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/fetch"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/linkcheck"
	applog "github.com/wbt-web-support/web-audit-v2-sub000/pkg/log"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/pagespeed"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/storage"
)

// pipeline holds the collaborators shared by the audit commands
type pipeline struct {
	store      *storage.BadgerStore
	dispatcher *dispatch.Dispatcher
	checker    *linkcheck.Checker
}

// buildPipeline opens the store and wires the dispatcher and link checker
func buildPipeline(ctx context.Context, appCfg *config.AppConfig, log *logrus.Logger) (*pipeline, error) {
	store, err := storage.NewBadgerStore(ctx, appCfg.StateDir, applog.Component(log, "storage"))
	if err != nil {
		return nil, err
	}
	go store.RunGC(ctx, 10*time.Minute)

	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, applog.Component(log, "http"))

	// Crawl attempts are bounded by the per-attempt context deadline only.
	crawlClient := *httpClient
	crawlClient.Timeout = 0
	retrier := fetch.NewRetrier(&crawlClient, applog.Component(log, "crawl"), fetch.RetrierOptions{
		OriginScheme: appCfg.Crawler.OriginScheme,
		BaseDelay:    appCfg.Crawler.BaseDelay,
		Strategy:     fetch.FailoverStrategy(appCfg.Crawler.Failover),
	})

	var pageSpeed pagespeed.Runner
	if appCfg.PageSpeed.Enabled {
		fetcher := fetch.NewFetcher(httpClient, 2, appCfg.Crawler.BaseDelay, 10*time.Second, applog.Component(log, "pagespeed"))
		pageSpeed = pagespeed.NewClient(fetcher, appCfg.PageSpeed, applog.Component(log, "pagespeed"))
	}

	dispatcher := dispatch.New(dispatch.Options{
		Store:     store,
		Crawler:   retrier,
		PageSpeed: pageSpeed,
		Config:    appCfg.Crawler,
	}, applog.Component(log, "dispatch"))

	return &pipeline{
		store:      store,
		dispatcher: dispatcher,
		checker:    newLinkChecker(appCfg, httpClient, store, log),
	}, nil
}

// newLinkChecker wires the batched link checker against the configured probe endpoint
func newLinkChecker(appCfg *config.AppConfig, client *http.Client, store storage.PageStore, log *logrus.Logger) *linkcheck.Checker {
	lc := appCfg.LinkCheck
	tokens := linkcheck.NewTokenSource(lc.TokenSecret, lc.Subject, lc.TokenTTL)
	prober := linkcheck.NewHTTPProber(client, lc.Endpoint, tokens, applog.Component(log, "linkcheck"))
	return linkcheck.NewChecker(prober, store, appCfg, lc, applog.Component(log, "linkcheck"))
}

// Close waits for background PageSpeed runs and closes the store
func (p *pipeline) Close(log *logrus.Logger) {
	p.dispatcher.Wait()
	if err := p.store.Close(); err != nil {
		log.Errorf("Closing store: %v", err)
	}
}
