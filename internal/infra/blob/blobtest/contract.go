// Package blobtest holds the behaviour every blob driver must share.
package blobtest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"portioncore/internal/infra/blob/core"
)

// RunContract exercises create-only puts, reads, listing order, deletes and
// key validation against a fresh store from newStore.
func RunContract(t *testing.T, newStore func(t *testing.T) core.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("put get head", func(t *testing.T) {
		store := newStore(t)
		payload := []byte(`{"operation":"split_item"}`)
		info, err := store.Put(ctx, "audit/stock-1/0001.json", bytes.NewReader(payload), core.PutOptions{ContentType: "application/json"})
		if err != nil {
			t.Fatalf("put: %v", err)
		}
		if info.Key != "audit/stock-1/0001.json" || info.Size != int64(len(payload)) {
			t.Fatalf("unexpected put info %+v", info)
		}
		got, rc, err := store.Get(ctx, "audit/stock-1/0001.json")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		body, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.Equal(body, payload) || got.ContentType != "application/json" {
			t.Fatalf("unexpected get %+v %q", got, body)
		}
		head, err := store.Head(ctx, "audit/stock-1/0001.json")
		if err != nil || head.Size != int64(len(payload)) {
			t.Fatalf("head: %+v %v", head, err)
		}
	})

	t.Run("write once", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.Put(ctx, "k", strings.NewReader("a"), core.PutOptions{}); err != nil {
			t.Fatalf("put: %v", err)
		}
		if _, err := store.Put(ctx, "k", strings.NewReader("b"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
			t.Fatalf("expected ErrExists, got %v", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		store := newStore(t)
		if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound from get, got %v", err)
		}
		if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound from head, got %v", err)
		}
		if existed, err := store.Delete(ctx, "nope"); err != nil || existed {
			t.Fatalf("expected delete of missing key to report false, got %v %v", existed, err)
		}
	})

	t.Run("list and delete", func(t *testing.T) {
		store := newStore(t)
		for _, key := range []string{"audit/b/2", "audit/a/1", "audit/b/1", "exports/x"} {
			if _, err := store.Put(ctx, key, strings.NewReader(key), core.PutOptions{}); err != nil {
				t.Fatalf("put %s: %v", key, err)
			}
		}
		infos, err := store.List(ctx, "audit/b/")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(infos) != 2 || infos[0].Key != "audit/b/1" || infos[1].Key != "audit/b/2" {
			t.Fatalf("unexpected listing %+v", infos)
		}
		all, err := store.List(ctx, "")
		if err != nil || len(all) != 4 {
			t.Fatalf("expected all four blobs, got %d %v", len(all), err)
		}
		existed, err := store.Delete(ctx, "audit/b/1")
		if err != nil || !existed {
			t.Fatalf("delete: %v %v", existed, err)
		}
		if infos, _ := store.List(ctx, "audit/b/"); len(infos) != 1 {
			t.Fatalf("expected one blob left, got %+v", infos)
		}
	})

	t.Run("invalid keys", func(t *testing.T) {
		store := newStore(t)
		for _, key := range []string{"", "/abs", "../escape", "a/../../b"} {
			if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
				t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
			}
		}
	})
}
