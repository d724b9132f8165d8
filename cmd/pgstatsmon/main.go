// Command pgstatsmon is the CLI launcher: it parses a JSON
// configuration file, wires up discovery, the collection engine, and
// the scrape endpoint, and runs until terminated. This launcher is
// explicitly out of the specification's core scope (spec.md section 1)
// but is included so the repository is runnable end to end.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/exporter-toolkit/web"
	"github.com/rs/zerolog"

	"github.com/TritonDataCenter/pgstatsmon/internal/catalog"
	"github.com/TritonDataCenter/pgstatsmon/internal/config"
	"github.com/TritonDataCenter/pgstatsmon/internal/discovery"
	"github.com/TritonDataCenter/pgstatsmon/internal/engine"
	"github.com/TritonDataCenter/pgstatsmon/internal/registry"
	"github.com/TritonDataCenter/pgstatsmon/internal/webkit"
)

var (
	configFile = kingpin.Flag("config-file", "Path to the pgstatsmon JSON configuration document.").
			Default("/opt/pgstatsmon/etc/config.json").String()
	logLevel = kingpin.Flag("log.level", "Minimum log level: debug, info, warn, error.").
			Default("info").String()
	catalogOverlay = kingpin.Flag("catalog-overlay", "Optional YAML file disabling or adding to the built-in query catalog.").
			Default("").String()
)

func main() {
	kingpin.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Str("service", "pgstatsmon").Logger()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	disc, err := buildDiscovery(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure discovery")
	}

	reg := registry.New(cfg.Target.Metadata, log.With().Str("component", "registry").Logger())

	queries := catalog.Default
	if *catalogOverlay != "" {
		ov, err := catalog.LoadOverlayFile(*catalogOverlay)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load catalog overlay")
		}
		queries = catalog.Apply(queries, ov)
	}
	if err := catalog.Validate(queries); err != nil {
		log.Fatal().Err(err).Msg("query catalog failed validation")
	}

	eng := engine.New(cfg, disc, reg, queries, log.With().Str("component", "engine").Logger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start collection engine")
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Target.Route, reg.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Handler: mux}
	listenAddr := fmt.Sprintf("%s:%d", cfg.Target.IP, cfg.Target.Port)
	systemdSocket := false
	webConfigFile := ""
	flags := &web.FlagConfig{
		WebListenAddresses: &[]string{listenAddr},
		WebSystemdSocket:   &systemdSocket,
		WebConfigFile:      &webConfigFile,
	}
	kitLog := webkit.NewLogger(log.With().Str("component", "http").Logger())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		eng.Stop(shutdownCtx)
	}()

	log.Info().Str("address", listenAddr).Str("route", cfg.Target.Route).Msg("starting scrape endpoint")
	if err := web.ListenAndServe(server, flags, kitLog); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("scrape endpoint exited with an error")
	}
}

func buildDiscovery(cfg *config.Config) (discovery.Provider, error) {
	if cfg.UsesInventory() {
		return &discovery.Inventory{
			URL:          cfg.VMAPI.URL,
			PollInterval: time.Duration(cfg.VMAPI.PollInterval) * time.Millisecond,
			TagName:      cfg.VMAPI.Tags.VMTagName,
			TagValue:     cfg.VMAPI.Tags.VMTagValue,
			NICTagRegex:  cfg.VMAPI.Tags.NICTag,
			Port:         cfg.BackendPort,
			Database:     cfg.Database,
		}, nil
	}

	if cfg.Static == nil {
		return nil, fmt.Errorf("no discovery provider configured: need either static or vmapi")
	}

	entries := make([]discovery.StaticEntry, 0, len(cfg.Static.DBs))
	for _, db := range cfg.Static.DBs {
		entries = append(entries, discovery.StaticEntry{Name: db.Name, IP: db.IP})
	}
	return &discovery.Static{Entries: entries, Port: cfg.BackendPort, Database: cfg.Database}, nil
}
