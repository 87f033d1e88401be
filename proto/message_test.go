package proto

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeMessagePicksContentType(t *testing.T) {
	req := NewExecuteRequest("plugin-a", "plugin-b", "ping", map[string]any{"n": 1.0})
	data, err := EncodeMessage(req)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	content, ok := got.Content.(*ExecuteRequestContent)
	if !ok {
		t.Fatalf("expected *ExecuteRequestContent, got %T", got.Content)
	}
	if content.Command != "ping" {
		t.Errorf("expected command ping, got %q", content.Command)
	}
	if content.Data["n"] != 1.0 {
		t.Errorf("expected data.n to survive the round trip, got %v", content.Data["n"])
	}
	if got.Header.Session != req.Header.Session {
		t.Errorf("expected session %q, got %q", req.Header.Session, got.Header.Session)
	}
}

func TestDecodeMessageUnknownType(t *testing.T) {
	raw := `{"header":{"msg_id":"m1","session":"s1","date":"2026-01-01T00:00:00Z",` +
		`"source":"a","target":"b","msg_type":"shutdown_request","version":"0.2"},"content":{}}`

	_, err := DecodeMessage([]byte(raw))
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected *SchemaError for unknown msg_type, got %v", err)
	}
	if !strings.Contains(schemaErr.Constraint, "msg_type") {
		t.Errorf("expected constraint to name msg_type, got %q", schemaErr.Constraint)
	}
}

func TestDecodeMessageMissingContent(t *testing.T) {
	raw := `{"header":{"msg_id":"m1","session":"s1","date":"2026-01-01T00:00:00Z",` +
		`"source":"a","target":"b","msg_type":"connect_request","version":"0.2"}}`

	m, err := DecodeMessage([]byte(raw))
	if err != nil {
		t.Fatalf("decode should tolerate a missing content key: %v", err)
	}
	err = Validate(m)
	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected *SchemaError from Validate, got %v", err)
	}
	if schemaErr.Constraint != "content: required" {
		t.Errorf("expected content: required, got %q", schemaErr.Constraint)
	}
}

func TestDecodeMessageMalformedJSON(t *testing.T) {
	if _, err := DecodeMessage([]byte(`{"header":`)); err == nil {
		t.Fatal("expected an error for truncated JSON")
	}
}

func TestReplyResult(t *testing.T) {
	req := NewExecuteRequest("a", "b", "add", nil)

	t.Run("ok", func(t *testing.T) {
		reply := NewExecuteReply(req, 1, 42)
		result, err := ReplyResult(reply)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != 42 {
			t.Errorf("expected 42, got %v", result)
		}
	})

	t.Run("no result", func(t *testing.T) {
		reply := NewExecuteReply(req, 2, nil)
		result, err := ReplyResult(reply)
		if err != nil || result != nil {
			t.Errorf("expected nil result without error, got %v, %v", result, err)
		}
	})

	t.Run("error status", func(t *testing.T) {
		reply := NewErrorReply(req, 3, &UnknownCommandError{Command: "add"})
		_, err := ReplyResult(reply)
		if err == nil {
			t.Fatal("expected an error for an error reply")
		}
		if !strings.Contains(err.Error(), "UnrecognizedCommand") {
			t.Errorf("expected the remote ename in the error, got %q", err.Error())
		}
	})

	t.Run("not a reply", func(t *testing.T) {
		if _, err := ReplyResult(req); err == nil {
			t.Fatal("expected an error for a non-reply message")
		}
	})
}
