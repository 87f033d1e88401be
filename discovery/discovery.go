// Package discovery announces and locates hubs on the local network over
// mDNS. A hub advertises its query endpoint as a _zmq-plugin._tcp instance
// with the scheme carried in a TXT record; a plugin with no configured hub
// address takes the first advertisement it hears.
package discovery

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/mkdryden/zmq-plugin/transport"
)

// ServiceType is the mDNS service name hubs advertise under.
const ServiceType = "_zmq-plugin._tcp"

const schemePrefix = "scheme="

// Service describes one advertised hub.
type Service struct {
	Instance string
	Scheme   string
	Address  string
	Port     int
	TXT      []string
}

// QueryURI reassembles the advertised query endpoint.
func (s *Service) QueryURI() string {
	return fmt.Sprintf("%s://%s:%d", s.Scheme, s.Address, s.Port)
}

// Options configures an announcement. Zero values are usable defaults.
type Options struct {
	Logger *slog.Logger
	TXT    []string // extra records, appended after the scheme
}

// Announcer keeps one mDNS advertisement alive until closed.
type Announcer struct {
	server *mdns.Server
	log    *slog.Logger
}

// Announce advertises a hub's query endpoint. The URI must carry the real
// bound port, so announce after the hub has been reset at least once.
func Announce(instance string, query transport.URI, opts Options) (*Announcer, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if query.Port == 0 {
		return nil, fmt.Errorf("cannot announce an unbound endpoint")
	}

	txt := append([]string{schemePrefix + query.Scheme}, opts.TXT...)

	// Pass the bind address through when it is concrete so the library
	// does not have to resolve the hostname itself.
	var ips []net.IP
	if ip := net.ParseIP(query.Host); ip != nil && !ip.IsUnspecified() {
		ips = []net.IP{ip}
	}

	svc, err := mdns.NewMDNSService(instance, ServiceType, "", "", query.Port, ips, txt)
	if err != nil {
		return nil, fmt.Errorf("mdns service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("mdns server: %w", err)
	}

	log.Info("announcing hub", "instance", instance, "scheme", query.Scheme, "port", query.Port)
	return &Announcer{server: server, log: log}, nil
}

// Close withdraws the advertisement.
func (a *Announcer) Close() error {
	return a.server.Shutdown()
}

// Lookup returns the first hub advertised on the local network, waiting at
// most timeout (five seconds when zero).
func Lookup(timeout time.Duration) (*Service, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	entries := make(chan *mdns.ServiceEntry, 4)
	go func() {
		defer close(entries)
		mdns.Lookup(ServiceType, entries)
	}()

	select {
	case entry := <-entries:
		if entry == nil {
			return nil, fmt.Errorf("no %s service found", ServiceType)
		}
		svc, err := fromEntry(entry)
		if err != nil {
			return nil, err
		}
		slog.Info("discovered hub",
			"instance", svc.Instance,
			"address", svc.Address,
			"port", svc.Port,
			"scheme", svc.Scheme,
		)
		return svc, nil

	case <-time.After(timeout):
		return nil, fmt.Errorf("discovery timed out after %s", timeout)
	}
}

func fromEntry(entry *mdns.ServiceEntry) (*Service, error) {
	var address string
	switch {
	case entry.AddrV4 != nil:
		address = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		address = fmt.Sprintf("[%s]", entry.AddrV6.String())
	default:
		return nil, fmt.Errorf("no usable address for %s", entry.Name)
	}

	scheme := "tcp"
	for _, field := range entry.InfoFields {
		if v, ok := strings.CutPrefix(field, schemePrefix); ok {
			scheme = v
		}
	}

	return &Service{
		Instance: entry.Name,
		Scheme:   scheme,
		Address:  address,
		Port:     entry.Port,
		TXT:      entry.InfoFields,
	}, nil
}
