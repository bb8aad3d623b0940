package authstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTokenExpired(t *testing.T) {
	now := time.Now()

	tok := Token{AccessToken: "a"}
	if tok.Expired(now) {
		t.Error("token without expiry should never expire")
	}

	tok.ExpiresAt = now.Add(time.Hour)
	if tok.Expired(now) {
		t.Error("future expiry should not be expired")
	}

	tok.ExpiresAt = now.Add(-time.Hour)
	if !tok.Expired(now) {
		t.Error("past expiry should be expired")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, ok, _ := store.Load(ctx); ok {
		t.Fatal("empty store should report no token")
	}

	want := Token{AccessToken: "at", RefreshToken: "rt", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := store.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.AccessToken != want.AccessToken || got.RefreshToken != want.RefreshToken {
		t.Errorf("loaded %+v, want %+v", got, want)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := store.Load(ctx); ok {
		t.Error("store should be empty after Clear")
	}
	// Clearing an empty store is a no-op.
	if err := store.Clear(ctx); err != nil {
		t.Errorf("second Clear: %v", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "token.sealed")

	store, err := NewFileStore(path, "unit-test-secret")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if _, ok, err := store.Load(ctx); err != nil || ok {
		t.Fatalf("empty load: ok=%v err=%v", ok, err)
	}

	want := Token{AccessToken: "at", RefreshToken: "rt"}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := store.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Errorf("loaded %+v, want %+v", got, want)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("token file should be removed after Clear")
	}
	if err := store.Clear(ctx); err != nil {
		t.Errorf("Clear on missing file: %v", err)
	}
}

func TestFileStoreRejectsTamperedFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "token.sealed")

	store, err := NewFileStore(path, "unit-test-secret")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Save(ctx, Token{AccessToken: "at"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, _, err := store.Load(ctx); err == nil {
		t.Error("tampered file should fail to unseal")
	}
}

func TestFileStoreDifferentSecretCannotRead(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "token.sealed")

	a, _ := NewFileStore(path, "secret-a")
	if err := a.Save(ctx, Token{AccessToken: "at"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	b, _ := NewFileStore(path, "secret-b")
	if _, _, err := b.Load(ctx); err == nil {
		t.Error("a different secret should not unseal the token file")
	}
}
