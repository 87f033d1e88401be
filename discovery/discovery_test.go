package discovery

import (
	"net"
	"strings"
	"testing"

	"github.com/hashicorp/mdns"

	"github.com/mkdryden/zmq-plugin/transport"
)

func TestFromEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "lab-hub._zmq-plugin._tcp.local.",
		AddrV4:     net.ParseIP("192.168.1.20"),
		Port:       31000,
		InfoFields: []string{"scheme=ws", "version=0.2"},
	}

	svc, err := fromEntry(entry)
	if err != nil {
		t.Fatalf("fromEntry: %v", err)
	}
	if svc.Scheme != "ws" {
		t.Errorf("expected scheme ws, got %s", svc.Scheme)
	}
	if got := svc.QueryURI(); got != "ws://192.168.1.20:31000" {
		t.Errorf("unexpected query URI %s", got)
	}
}

func TestFromEntryDefaultsAndV6(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:   "hub._zmq-plugin._tcp.local.",
		AddrV6: net.ParseIP("fe80::1"),
		Port:   31000,
	}

	svc, err := fromEntry(entry)
	if err != nil {
		t.Fatalf("fromEntry: %v", err)
	}
	if svc.Scheme != "tcp" {
		t.Errorf("expected the scheme to default to tcp, got %s", svc.Scheme)
	}
	if got := svc.QueryURI(); got != "tcp://[fe80::1]:31000" {
		t.Errorf("unexpected query URI %s", got)
	}
}

func TestFromEntryWithoutAddress(t *testing.T) {
	if _, err := fromEntry(&mdns.ServiceEntry{Name: "ghost", Port: 1}); err == nil {
		t.Fatal("expected an error for an entry with no address")
	}
}

func TestAnnounceRejectsUnboundEndpoint(t *testing.T) {
	uri, err := transport.ParseURI("tcp://127.0.0.1:0")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Announce("hub", uri, Options{}); err == nil ||
		!strings.Contains(err.Error(), "unbound") {
		t.Fatalf("expected an unbound endpoint error, got %v", err)
	}
}
