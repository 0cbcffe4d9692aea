// Package events mirrors broadcast events onto NATS subjects.
package events

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"go.uber.org/zap"
)

// EmbeddedServer is an in-process NATS server for single-binary deployments.
type EmbeddedServer struct {
	ns             *server.Server
	startupTimeout time.Duration
	logger         *zap.Logger
}

// NewEmbeddedServer configures a NATS server bound to host:port. A port of
// -1 selects a random free port.
//
// Postcondition: Returns an unstarted server or a non-nil error.
func NewEmbeddedServer(host string, port int, logger *zap.Logger) (*EmbeddedServer, error) {
	ns, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring embedded nats server: %w", err)
	}
	return &EmbeddedServer{
		ns:             ns,
		startupTimeout: 10 * time.Second,
		logger:         logger,
	}, nil
}

// Start runs the server and waits until it accepts connections.
//
// Postcondition: Returns nil once ClientURL is dialable.
func (s *EmbeddedServer) Start() error {
	s.ns.Start()
	if !s.ns.ReadyForConnections(s.startupTimeout) {
		s.ns.Shutdown()
		return fmt.Errorf("embedded nats server not ready after %s", s.startupTimeout)
	}
	s.logger.Info("embedded nats server listening", zap.String("url", s.ns.ClientURL()))
	return nil
}

// ClientURL returns the URL clients use to connect.
func (s *EmbeddedServer) ClientURL() string {
	return s.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (s *EmbeddedServer) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
