package kvstore

import (
	"context"
	"testing"
)

func TestFileStoreGetMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, ok, err := store.Get(context.Background(), "scripts")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected missing key")
	}
}

func TestFileStoreSetGetRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	want := []byte(`[{"id":"abc"}]`)
	if err := store.Set(context.Background(), "scripts", want); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := store.Get(context.Background(), "scripts")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatalf("expected key to exist")
	}
	if string(got) != string(want) {
		t.Fatalf("value mismatch: %q vs %q", got, want)
	}
}

func TestFileStoreSubscribeObservesSets(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	var seen [][]byte
	cancel := store.Subscribe("scripts", func(value []byte) {
		seen = append(seen, value)
	})
	if err := store.Set(context.Background(), "scripts", []byte("one")); err != nil {
		t.Fatalf("set one: %v", err)
	}
	if err := store.Set(context.Background(), "other", []byte("nope")); err != nil {
		t.Fatalf("set other: %v", err)
	}
	if err := store.Set(context.Background(), "scripts", []byte("two")); err != nil {
		t.Fatalf("set two: %v", err)
	}
	cancel()
	if err := store.Set(context.Background(), "scripts", []byte("three")); err != nil {
		t.Fatalf("set three: %v", err)
	}
	if len(seen) != 2 || string(seen[0]) != "one" || string(seen[1]) != "two" {
		t.Fatalf("subscriber saw %q", seen)
	}
}

func TestFileStoreSanitizesKeys(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Set(context.Background(), "../escape attempt", []byte("x")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := store.Get(context.Background(), "../escape attempt")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(got) != "x" {
		t.Fatalf("value = %q", got)
	}
}
