package agent

import (
	"context"
	"testing"
	"time"

	"github.com/ndanilov/piivault/internal/models"
)

func TestStartGrantPoll_PicksUpGrant(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.addIdentity("admin", "adminpw", models.RoleAdmin)
	store.addIdentity("alice", "alicepw", models.RoleUser)

	admin := New(store.session("admin"), "admin", nil)
	if _, err := admin.Bootstrap(ctx, "adminpw"); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	alice := New(store.session("alice"), "alice", nil)
	if status, err := alice.Setup(ctx, "alicepw"); err != nil || status != StatusPendingAccess {
		t.Fatalf("expected pending setup, got %s, %v", status, err)
	}

	changed := make(chan Status, 1)
	StartGrantPoll(ctx, alice, 10*time.Millisecond, func(s Status) {
		changed <- s
	})

	if err := admin.Grant(ctx, "alice"); err != nil {
		t.Fatalf("grant failed: %v", err)
	}

	select {
	case s := <-changed:
		if s != StatusReady {
			t.Errorf("expected %s from poll, got %s", StatusReady, s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll never observed the grant")
	}
}

func TestStartGrantPoll_StopsOutsidePending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := newFakeStore()
	store.addIdentity("alice", "alicepw", models.RoleUser)

	alice := New(store.session("alice"), "alice", nil)
	fired := make(chan Status, 1)
	// Status is no_local_secret; the poll should exit on its first tick
	// without calling back.
	StartGrantPoll(ctx, alice, 5*time.Millisecond, func(s Status) {
		fired <- s
	})

	select {
	case s := <-fired:
		t.Errorf("unexpected status change callback: %s", s)
	case <-time.After(100 * time.Millisecond):
	}
}
