// Package natsserver runs an in-process NATS server for single-host
// deployments.
package natsserver

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-digest/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

type EmbeddedServer struct {
	ns   *server.Server
	log  *slog.Logger
	once sync.Once
}

// Start launches the server when cfg.Embedded is set and returns nil
// otherwise. Port -1 binds a random free port. A non-empty StoreDir enables
// JetStream.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}
	log = log.With(slog.String("component", "nats-server"))

	opts := &server.Options{
		ServerName: "loqa-digest",
		Host:       cfg.Host,
		Port:       cfg.Port,
		JetStream:  cfg.StoreDir != "",
		StoreDir:   cfg.StoreDir,
		NoSigs:     true,
		NoLog:      true,
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if cfg.Token != "" {
		opts.Authorization = cfg.Token
	} else if cfg.Username != "" {
		opts.Username, opts.Password = cfg.Username, cfg.Password
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, errors.New("embedded nats server not ready within " + readyTimeout.String())
	}

	log.Info("embedded NATS server listening", slog.String("url", ns.ClientURL()), slog.Bool("jetstream", opts.JetStream))
	return &EmbeddedServer{ns: ns, log: log}, nil
}

func (e *EmbeddedServer) ClientURL() string { return e.ns.ClientURL() }

// Shutdown stops the server and waits for it to exit. It is safe to call
// more than once and on a nil server.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.once.Do(func() {
		e.ns.Shutdown()
		e.ns.WaitForShutdown()
		e.log.Info("embedded NATS server stopped")
	})
}
