package proto

import (
	"errors"
	"testing"
)

func TestNewFramesShape(t *testing.T) {
	f := NewFrames("plugin-a", "plugin-b", "m1", []byte(`{"k":1}`))
	if err := f.Check(); err != nil {
		t.Fatalf("unexpected arity error: %v", err)
	}
	if f.Sender() != "plugin-a" || f.Target() != "plugin-b" {
		t.Errorf("unexpected addressing frames: %v", f[:2])
	}
	if f[2] != "" {
		t.Errorf("expected an empty delimiter frame, got %q", f[2])
	}
	if f.Correlation() != "m1" {
		t.Errorf("expected correlation m1, got %q", f.Correlation())
	}
	if string(f.Payload()) != `{"k":1}` {
		t.Errorf("unexpected payload frame: %q", f.Payload())
	}
}

func TestFramesCheckArity(t *testing.T) {
	err := Frames{"a", "b", "c"}.Check()
	var envErr *EnvelopeError
	if !errors.As(err, &envErr) {
		t.Fatalf("expected *EnvelopeError, got %v", err)
	}
	if envErr.Arity != 3 {
		t.Errorf("expected reported arity 3, got %d", envErr.Arity)
	}
}

func TestFramesSwapPreservesTail(t *testing.T) {
	in := NewFrames("plugin-a", "plugin-b", "m1", []byte(`{"k":1}`))
	out := in.Swap()

	if out.Sender() != "plugin-b" || out.Target() != "plugin-a" {
		t.Errorf("expected addressing frames to be exchanged, got %v", out[:2])
	}
	for i := 2; i < EnvelopeArity; i++ {
		if out[i] != in[i] {
			t.Errorf("expected frame %d to be untouched, got %q", i, out[i])
		}
	}
	if in.Sender() != "plugin-a" {
		t.Error("expected Swap to leave the original envelope alone")
	}
}

func TestFramesWireRoundTrip(t *testing.T) {
	in := NewFrames("plugin-a", "plugin-b", "m1", []byte(`{"nested":["x","y"]}`))
	data, err := in.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeFrames(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("frame %d changed across the wire: %q != %q", i, out[i], in[i])
		}
	}
}
