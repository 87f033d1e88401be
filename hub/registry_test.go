package hub

import (
	"sync"
	"testing"
)

func TestRegistryAddIsIdempotent(t *testing.T) {
	r := NewRegistry()

	if !r.Add("plugin-a") {
		t.Error("expected first Add to report a new name")
	}
	if r.Add("plugin-a") {
		t.Error("expected second Add to be a no-op")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 name, got %d", r.Len())
	}
	if !r.Contains("plugin-a") {
		t.Error("expected plugin-a to be registered")
	}
}

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Add("c")
	r.Add("a")
	r.Add("b")
	r.Add("a") // re-registration must not move it

	names := r.Names()
	want := []string{"c", "a", "b"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("expected names[%d] = %q, got %q", i, want[i], names[i])
		}
	}
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry()
	r.Add("plugin-a")
	r.Add("plugin-b")
	r.Reset()

	if r.Len() != 0 {
		t.Errorf("expected an empty registry after reset, got %v", r.Names())
	}
	if r.Contains("plugin-a") {
		t.Error("expected plugin-a to be forgotten")
	}
	if !r.Add("plugin-a") {
		t.Error("expected Add to work again after reset")
	}
}

func TestRegistryConcurrentAdd(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	names := []string{"a", "b", "c", "d"}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, n := range names {
				r.Add(n)
				r.Contains(n)
			}
		}()
	}
	wg.Wait()

	if r.Len() != len(names) {
		t.Errorf("expected %d unique names, got %v", len(names), r.Names())
	}
}
