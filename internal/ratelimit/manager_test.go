package ratelimit

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestCheckRate(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	m, err := NewManager("redis://" + s.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, _, err := m.CheckRate(ctx, "key_1", "/v1/actions/pay", 3)
		if err != nil || !ok {
			t.Fatalf("request %d: allowed=%v err=%v", i, ok, err)
		}
	}
	ok, reset, err := m.CheckRate(ctx, "key_1", "/v1/actions/pay", 3)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected fourth request to be limited")
	}
	if reset < 1 || reset > 60 {
		t.Fatalf("unexpected reset %d", reset)
	}

	// A different key has its own bucket.
	if ok, _, _ := m.CheckRate(ctx, "key_2", "/v1/actions/pay", 3); !ok {
		t.Fatalf("expected independent bucket per key")
	}
}

func TestNewManager_BadURL(t *testing.T) {
	if _, err := NewManager("not-a-url"); err == nil {
		t.Fatal("expected parse error")
	}
}
