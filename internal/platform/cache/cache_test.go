package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemory_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "doctors:active"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}

	if err := m.Set(ctx, "doctors:active", []byte(`[]`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := m.Get(ctx, "doctors:active")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "[]" {
		t.Errorf("expected [], got %s", got)
	}

	_ = m.Delete(ctx, "doctors:active")
	if _, err := m.Get(ctx, "doctors:active"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after delete, got %v", err)
	}
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	_ = m.Set(ctx, "k", []byte("v"), 5*time.Minute)
	now = now.Add(4 * time.Minute)
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("expected hit before expiry, got %v", err)
	}
	now = now.Add(time.Minute)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected miss at expiry, got %v", err)
	}
}

func TestMemory_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.Set(ctx, "k", []byte("abc"), 0)

	got, _ := m.Get(ctx, "k")
	got[0] = 'z'

	again, _ := m.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored value was mutated: %s", again)
	}
}

func TestNewRedis_BadURL(t *testing.T) {
	if _, err := NewRedis(context.Background(), "not a url"); err == nil {
		t.Fatal("expected error for malformed url")
	}
}
