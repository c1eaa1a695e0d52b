package discovery

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func noRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
	return nil, nil
}

func idleBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	<-ctx.Done()
	return nil
}

func TestStartAdvertisesServer(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      []string
	)

	svc, err := Start(Config{
		ServerID:   "server-123",
		ServerName: " Office Chat ",
		Port:       8080,
		register: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance, gotService, gotDomain, gotPort = instance, service, domain, port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
		browse: idleBrowse,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if svc.Clients() == nil {
		t.Fatalf("expected a client scanner")
	}
	svc.Stop()

	if gotInstance != "Office Chat" || gotService != ServerService || gotDomain != Domain || gotPort != 8080 {
		t.Fatalf("unexpected registration: %q %q %q %d", gotInstance, gotService, gotDomain, gotPort)
	}
	if len(gotTXT) != 2 || gotTXT[0] != "server_id=server-123" || gotTXT[1] != "version=1" {
		t.Fatalf("unexpected TXT record: %v", gotTXT)
	}
}

func TestStartValidatesConfig(t *testing.T) {
	cases := map[string]Config{
		"missing id":   {ServerName: "x", Port: 1},
		"missing name": {ServerID: "x", ServerName: "  ", Port: 1},
		"missing port": {ServerID: "x", ServerName: "x"},
	}
	for name, cfg := range cases {
		cfg.register = noRegister
		cfg.browse = idleBrowse
		if _, err := Start(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestStartWrapsRegisterError(t *testing.T) {
	cause := errors.New("multicast unavailable")
	_, err := Start(Config{
		ServerID:   "server",
		ServerName: "Server",
		Port:       1,
		register: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			return nil, cause
		},
		browse: idleBrowse,
	})
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped register error, got %v", err)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg, err := Config{ServerID: "s", ServerName: "n", Port: 1}.normalize()
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if cfg.TTL != DefaultTTL || cfg.ScanInterval != DefaultScanInterval || cfg.ScanTimeout != DefaultScanTimeout {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.register == nil {
		t.Fatalf("expected zeroconf registration by default")
	}
}

func TestStopOnNilService(t *testing.T) {
	var svc *Service
	svc.Stop()
}
