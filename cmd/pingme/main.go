package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pingme/pingme/api"
	"github.com/pingme/pingme/auth"
	"github.com/pingme/pingme/config"
	"github.com/pingme/pingme/globals"
	"github.com/pingme/pingme/member"
	"github.com/pingme/pingme/metrics"
	"github.com/pingme/pingme/persistence"
	"github.com/pingme/pingme/ws"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if globalConfig.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))
	}

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	gateway, err := auth.NewGateway(globalConfig, persister)
	if err != nil {
		panic(err)
	}
	gate := member.NewGate(persister)

	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	// the fan-out core: one registry and one dispatcher per process, shared
	// by all connection handlers, never ambient global state
	registry := ws.NewRegistry(collector)
	dispatcher := ws.NewDispatcher(registry, persister, collector)
	wsHandler := ws.NewHandler(globalConfig, registry, dispatcher, gateway, gate, persister, collector)

	apiServer := api.NewServer(globalConfig, gateway, gate, persister)
	router := api.NewRouter(apiServer, wsHandler.ServeWS, promRegistry)

	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err = cronRunner.AddFunc("* * * * *", func() {
		ids := registry.ActiveUserIds()
		if err := persister.TouchLastOnline(ids); err != nil {
			globals.AppLogger.Error("could not flush last-online", "error", err)
		}
		globals.AppLogger.Debug("registry stats", "rooms", registry.RoomCount(), "users", len(ids))
	})
	if err != nil {
		panic(err)
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	server := &http.Server{Addr: *addr, Handler: router}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		globals.AppLogger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			globals.AppLogger.Error("shutdown error", "error", err)
		}
	}()

	globals.AppLogger.Info("listening", "addr", *addr)
	if *sslCert != "" && *sslKey != "" {
		err = server.ListenAndServeTLS(*sslCert, *sslKey)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		globals.AppLogger.Error("stopped listening", "error", err)
		os.Exit(1)
	}
}
