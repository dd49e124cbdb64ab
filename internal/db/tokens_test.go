package db

import (
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *TokenStore {
	t.Helper()
	database, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	store, err := NewTokenStore(database)
	if err != nil {
		t.Fatalf("create token store: %v", err)
	}
	return store
}

func TestProvisionAndVerify(t *testing.T) {
	store := testStore(t)

	token, err := store.ProvisionToken("gs-1", "")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if token == "" {
		t.Fatal("no token generated")
	}

	if !store.VerifyToken("gs-1", token) {
		t.Error("valid token rejected")
	}
	if store.VerifyToken("gs-1", "wrong") {
		t.Error("invalid token accepted")
	}
	if store.VerifyToken("gs-unknown", token) {
		t.Error("unknown server id accepted")
	}
}

func TestProvisionReplacesToken(t *testing.T) {
	store := testStore(t)

	first, _ := store.ProvisionToken("gs-1", "old-secret")
	second, err := store.ProvisionToken("gs-1", "new-secret")
	if err != nil {
		t.Fatalf("re-provision: %v", err)
	}

	if store.VerifyToken("gs-1", first) {
		t.Error("replaced token still valid")
	}
	if !store.VerifyToken("gs-1", second) {
		t.Error("new token rejected")
	}
}

func TestRevokeToken(t *testing.T) {
	store := testStore(t)
	token, _ := store.ProvisionToken("gs-1", "")

	if err := store.RevokeToken("gs-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if store.VerifyToken("gs-1", token) {
		t.Error("revoked token accepted")
	}
	if err := store.RevokeToken("gs-1"); err == nil {
		t.Error("revoking absent token succeeded")
	}
}

func TestListTokens(t *testing.T) {
	store := testStore(t)
	store.ProvisionToken("gs-2", "")
	store.ProvisionToken("gs-1", "")

	tokens, err := store.ListTokens()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("listed %d tokens, want 2", len(tokens))
	}
	if tokens[0].ServerID != "gs-1" || tokens[1].ServerID != "gs-2" {
		t.Errorf("unexpected ordering: %+v", tokens)
	}
}

func TestAuditLog(t *testing.T) {
	store := testStore(t)

	store.RecordAudit("gs-1", "authenticated", "")
	store.RecordAudit("gs-1", "disconnected", "read error")
	store.RecordAudit("gs-2", "authenticated", "")

	all, err := store.RecentAudit("", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d entries, want 3", len(all))
	}
	// Newest first.
	if all[0].ServerID != "gs-2" {
		t.Errorf("first entry %+v, want gs-2 authentication", all[0])
	}

	filtered, err := store.RecentAudit("gs-1", 10)
	if err != nil {
		t.Fatalf("filtered: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("got %d gs-1 entries, want 2", len(filtered))
	}
}

func TestPruneAudit(t *testing.T) {
	store := testStore(t)
	store.RecordAudit("gs-1", "authenticated", "")

	// Nothing is older than a day.
	removed, err := store.PruneAudit(24 * time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 0 {
		t.Errorf("pruned %d fresh entries", removed)
	}

	// A zero retention window removes everything.
	removed, err = store.PruneAudit(-time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("pruned %d entries, want 1", removed)
	}
}
