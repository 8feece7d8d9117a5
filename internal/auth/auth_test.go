// Copyright: Jonathan Hall
// License: GNU AGPL, Version 3 or later; http://www.gnu.org/licenses/agpl.html

package auth

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestUsers(t *testing.T) *SQLiteUserStore {
	t.Helper()
	s, err := OpenUserStore(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndVerify(t *testing.T) {
	users := newTestUsers(t)
	ctx := context.Background()

	u, err := users.Create(ctx, "alice", "Alice", "password123")
	require.NoError(t, err)
	if u.ID == 0 || u.Username != "alice" || u.Name != "Alice" {
		t.Fatalf("Unexpected user record: %+v", u)
	}

	got, err := users.VerifyPassword(ctx, "alice", "password123")
	require.NoError(t, err)
	if got.ID != u.ID {
		t.Fatalf("VerifyPassword returned wrong user: %+v", got)
	}

	if _, err := users.VerifyPassword(ctx, "alice", "wrongwrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := users.VerifyPassword(ctx, "nobody", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("Unknown user must look like a bad password, got %v", err)
	}
}

func TestDuplicateUsername(t *testing.T) {
	users := newTestUsers(t)
	ctx := context.Background()

	_, err := users.Create(ctx, "alice", "Alice", "password123")
	require.NoError(t, err)
	if _, err := users.Create(ctx, "alice", "Other", "password456"); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("Expected ErrDuplicateUser, got %v", err)
	}
	// Usernames collide case-insensitively.
	if _, err := users.Create(ctx, "ALICE", "Shouty", "password456"); !errors.Is(err, ErrDuplicateUser) {
		t.Fatalf("Expected case-insensitive ErrDuplicateUser, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	users := newTestUsers(t)
	ctx := context.Background()

	created, err := users.Create(ctx, "bob", "Bob", "password123")
	require.NoError(t, err)
	u, err := users.Lookup(ctx, "bob")
	require.NoError(t, err)
	if u.ID != created.ID {
		t.Fatalf("Lookup mismatch: %+v vs %+v", u, created)
	}
	if _, err := users.Lookup(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestGateIssueResolveRevoke(t *testing.T) {
	gate := NewGate("test-secret")

	token := gate.Issue("alice")
	if !strings.Contains(token, ".") {
		t.Fatalf("Token should be id.signature, got %q", token)
	}

	username, err := gate.Resolve(token)
	require.NoError(t, err)
	if username != "alice" {
		t.Fatalf("Resolved wrong username: %q", username)
	}

	gate.Revoke(token)
	if _, err := gate.Resolve(token); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("Revoked token must not resolve, got %v", err)
	}
}

func TestGateRejectsTampering(t *testing.T) {
	gate := NewGate("test-secret")
	token := gate.Issue("alice")

	for _, bad := range []string{
		"",
		"garbage",
		token + "x",
		strings.Replace(token, ".", "x", 1),
	} {
		if _, err := gate.Resolve(bad); !errors.Is(err, ErrAuthRequired) {
			t.Fatalf("Expected ErrAuthRequired for %q, got %v", bad, err)
		}
	}

	// A token signed under a different secret is rejected even if the id is
	// in someone else's table.
	other := NewGate("other-secret")
	if _, err := other.Resolve(token); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("Cross-deployment token must not resolve, got %v", err)
	}
}
