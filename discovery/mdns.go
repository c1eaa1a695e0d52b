// Package discovery advertises the chat server on the LAN over mDNS and
// tracks which users announce a client on the same network.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"
)

const (
	// ServerService is the mDNS service the server registers under.
	ServerService = "_dmchat._tcp"
	// ClientService is the mDNS service clients announce their user id under.
	ClientService = "_dmchat-client._tcp"
	// Domain is the mDNS domain both services live in.
	Domain = "local."
	// TXTVersion is written to the server's TXT record.
	TXTVersion = 1

	DefaultScanInterval = 10 * time.Second
	DefaultScanTimeout  = 3 * time.Second
	DefaultTTL          = 120
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config describes the advertised server and how often the LAN is scanned
// for clients.
type Config struct {
	ServerID   string
	ServerName string
	Port       int

	ScanInterval time.Duration
	ScanTimeout  time.Duration
	// TTL is the record TTL in seconds.
	TTL uint32

	Logger zerolog.Logger

	register registerFunc
	browse   browseFunc
}

// normalize fills defaults and rejects a config that cannot be advertised.
func (c Config) normalize() (Config, error) {
	c.ServerID = strings.TrimSpace(c.ServerID)
	c.ServerName = strings.TrimSpace(c.ServerName)
	switch {
	case c.ServerID == "":
		return Config{}, errors.New("discovery: server id is required")
	case c.ServerName == "":
		return Config{}, errors.New("discovery: server name is required")
	case c.Port <= 0:
		return Config{}, errors.New("discovery: port must be > 0")
	}

	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = DefaultScanTimeout
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.register == nil {
		c.register = zeroconf.Register
	}
	return c, nil
}

func (c Config) txtRecord() []string {
	return []string{
		"server_id=" + c.ServerID,
		"version=" + strconv.Itoa(TXTVersion),
	}
}

// Service is a running advertisement plus the client scanner.
type Service struct {
	server  *zeroconf.Server
	clients *ClientScanner
}

// Start registers the server and begins scanning for clients.
func Start(config Config) (*Service, error) {
	cfg, err := config.normalize()
	if err != nil {
		return nil, err
	}

	server, err := cfg.register(cfg.ServerName, ServerService, Domain, cfg.Port, cfg.txtRecord(), nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}
	if server != nil {
		server.TTL(cfg.TTL)
	}

	clients, err := newClientScanner(cfg)
	if err != nil {
		if server != nil {
			server.Shutdown()
		}
		return nil, err
	}
	clients.start()

	cfg.Logger.Info().
		Str("service", ServerService).
		Str("name", cfg.ServerName).
		Int("port", cfg.Port).
		Msg("mDNS advertisement started")

	return &Service{server: server, clients: clients}, nil
}

// Clients returns the scanner tracking announced users.
func (s *Service) Clients() *ClientScanner {
	return s.clients
}

// Stop ends scanning and withdraws the advertisement.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	s.clients.Stop()
	if s.server != nil {
		s.server.Shutdown()
	}
}
