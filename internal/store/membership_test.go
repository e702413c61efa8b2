package store

import (
	"context"
	"testing"
	"time"

	"geoattend/engine/internal/model"
)

func TestLastTransition_FollowsEntriesAndExits(t *testing.T) {
	q, _ := openTestQueue(t, 10)
	ctx := context.Background()

	if _, _, ok, err := q.LastTransition(ctx, "user-1"); ok || err != nil {
		t.Fatalf("expected no transition yet, ok=%v err=%v", ok, err)
	}

	entry := testEvent("entry", 0)
	if err := q.Enqueue(ctx, entry); err != nil {
		t.Fatalf("enqueue entry: %v", err)
	}
	site, at, ok, err := q.LastTransition(ctx, "user-1")
	if err != nil || !ok || site != "site-a" || !at.Equal(entry.CapturedAt) {
		t.Fatalf("after entry: site=%q at=%v ok=%v err=%v", site, at, ok, err)
	}

	// Delivery deletes the event but not the membership it left behind.
	if err := q.MarkDelivered(ctx, []string{"entry"}); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	update := testEvent("update", time.Minute)
	update.EventType = model.EventTrackingUpdate
	_ = q.Enqueue(ctx, update)
	if site, _, _, _ := q.LastTransition(ctx, "user-1"); site != "site-a" {
		t.Fatalf("tracking updates and delivery must not change membership, got %q", site)
	}

	exit := testEvent("exit", 2*time.Minute)
	exit.EventType = model.EventSiteExit
	_ = q.Enqueue(ctx, exit)
	site, at, ok, _ = q.LastTransition(ctx, "user-1")
	if !ok || site != "" || !at.Equal(exit.CapturedAt) {
		t.Fatalf("after exit: site=%q at=%v ok=%v", site, at, ok)
	}
}
