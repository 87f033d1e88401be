package transport

import "testing"

func TestParseURI(t *testing.T) {
	cases := []struct {
		raw    string
		scheme string
		host   string
		port   int
	}{
		{"tcp://localhost:12345", "tcp", "localhost", 12345},
		{"tcp://*:5555", "tcp", "*", 5555},
		{"tcp://127.0.0.1:0", "tcp", "127.0.0.1", 0},
		{"ws://localhost:8000", "ws", "localhost", 8000},
	}
	for _, tc := range cases {
		u, err := ParseURI(tc.raw)
		if err != nil {
			t.Errorf("ParseURI(%q): unexpected error %v", tc.raw, err)
			continue
		}
		if u.Scheme != tc.scheme || u.Host != tc.host || u.Port != tc.port {
			t.Errorf("ParseURI(%q) = %+v", tc.raw, u)
		}
	}
}

func TestParseURIRejects(t *testing.T) {
	bad := []string{
		"localhost:12345",          // no scheme
		"ipc:///tmp/sock",          // unsupported scheme
		"tcp://localhost",          // no port
		"tcp://localhost:notaport", // bad port
		"tcp://localhost:70000",    // out of range
	}
	for _, raw := range bad {
		if _, err := ParseURI(raw); err == nil {
			t.Errorf("ParseURI(%q): expected an error", raw)
		}
	}
}

func TestURIWithPort(t *testing.T) {
	u, err := ParseURI("tcp://localhost:12345")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	derived := u.WithPort(6000)
	if derived.String() != "tcp://localhost:6000" {
		t.Errorf("unexpected derived uri %q", derived.String())
	}
	if u.Port != 12345 {
		t.Error("expected WithPort to leave the receiver alone")
	}
}
