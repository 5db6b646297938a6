// Command agentdock runs the agent conversation service: configuration and
// conversation stores, the shared agent instance pool and the HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/agentdock/agent"
	"github.com/hupe1980/agentdock/config"
	"github.com/hupe1980/agentdock/configuration"
	"github.com/hupe1980/agentdock/conversation"
	"github.com/hupe1980/agentdock/coordinator"
	"github.com/hupe1980/agentdock/httpapi"
	"github.com/hupe1980/agentdock/logging"
	"github.com/hupe1980/agentdock/metrics"
	"github.com/hupe1980/agentdock/pool"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		logging.New(logging.Config{}).Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:  settings.LogLevel,
		Format: settings.LogFormat,
	})

	configs := configuration.NewInMemoryStore()
	conversations := conversation.NewInMemoryStore(configs)

	factory := agent.NewFactory(func(o *agent.Options) {
		o.Logger = logger
	})

	registry := prometheus.NewRegistry()
	m := metrics.New(registry, configs, conversations)

	instancePool := pool.New(factory, func(o *pool.Options) {
		o.Capacity = settings.PoolCapacity
		o.IdleTimeout = settings.IdleTimeout
		o.SweepInterval = settings.SweepInterval
		o.ConstructTimeout = settings.ConstructTimeout
		o.Logger = logger
		o.Recorder = m
	})
	defer instancePool.Close()
	m.ObservePool(instancePool)

	coord := coordinator.New(configs, conversations, instancePool, func(o *coordinator.Options) {
		o.Logger = logger
	})

	server := httpapi.NewServer(configs, coord, instancePool, func(o *httpapi.Options) {
		o.Logger = logger
		o.Recorder = m
		o.Gatherer = registry
	})

	httpServer := &http.Server{
		Addr:    settings.HTTPAddr,
		Handler: server.Router(),
	}

	go func() {
		logger.Info("agentdock listening", "addr", settings.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown did not complete cleanly", "error", err)
	}
}
