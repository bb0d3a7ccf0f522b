package kv

import (
	"bytes"
	"context"
	"testing"
)

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if v, err := m.Get(ctx, "missing"); err != nil || v != nil {
		t.Fatalf("Get(missing) = %v, %v; want nil, nil", v, err)
	}

	if err := m.Set(ctx, "k", []byte(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	v, err := m.Get(ctx, "k")
	if err != nil || !bytes.Equal(v, []byte(`{"a":1}`)) {
		t.Fatalf("Get(k) = %q, %v", v, err)
	}

	// Mutating the returned slice must not leak into the store.
	v[0] = 'X'
	v2, _ := m.Get(ctx, "k")
	if !bytes.Equal(v2, []byte(`{"a":1}`)) {
		t.Errorf("store value mutated through returned slice: %q", v2)
	}

	if err := m.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.Get(ctx, "k"); v != nil {
		t.Errorf("Get after Delete = %q, want nil", v)
	}
	if err := m.Delete(ctx, "k"); err != nil {
		t.Errorf("double Delete errored: %v", err)
	}
}
