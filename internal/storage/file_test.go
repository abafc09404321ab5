package storage

import (
	"context"
	"path/filepath"
	"testing"

	"matchwatch/internal/watch"
	logx "matchwatch/pkg/logx"
)

func openTestStore(t *testing.T, path string) watch.Store {
	t.Helper()
	s, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestFileStoreSubscriptions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer s.Close()

	sub := watch.Subscription{EventID: "ev1", Title: "Cup", StartDate: "06-20", EndDate: "06-25"}
	replaced, err := s.ReplaceSubscription(ctx, 100, sub)
	if err != nil {
		t.Fatalf("ReplaceSubscription: %v", err)
	}
	if len(replaced) != 0 {
		t.Fatalf("fresh group displaced %v", replaced)
	}

	// Same group switches to another event.
	sub2 := watch.Subscription{EventID: "ev2", Title: "Major", StartDate: "07-01", EndDate: "07-05"}
	replaced, err = s.ReplaceSubscription(ctx, 100, sub2)
	if err != nil {
		t.Fatalf("ReplaceSubscription: %v", err)
	}
	if len(replaced) != 1 || replaced[0] != "ev1" {
		t.Fatalf("expected [ev1] displaced, got %v", replaced)
	}

	if _, err := s.ReplaceSubscription(ctx, 200, sub2); err != nil {
		t.Fatalf("ReplaceSubscription: %v", err)
	}

	subs, err := s.Subscriptions(ctx)
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected 1 distinct event, got %d: %v", len(subs), subs)
	}
	if got := subs["ev2"]; got.Title != "Major" || got.StartDate != "07-01" {
		t.Fatalf("unexpected subscription: %+v", got)
	}

	groups, err := s.GroupsByEvent(ctx, "ev2")
	if err != nil {
		t.Fatalf("GroupsByEvent: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups on ev2, got %v", groups)
	}

	removed, err := s.RemoveSubscription(ctx, 100, "ev2")
	if err != nil || !removed {
		t.Fatalf("RemoveSubscription: removed=%v err=%v", removed, err)
	}
	removed, err = s.RemoveSubscription(ctx, 100, "ev2")
	if err != nil || removed {
		t.Fatalf("second remove: removed=%v err=%v", removed, err)
	}
	// Removing under the wrong event id is a no-op.
	removed, err = s.RemoveSubscription(ctx, 200, "ev-other")
	if err != nil || removed {
		t.Fatalf("wrong-event remove: removed=%v err=%v", removed, err)
	}
}

func TestFileStoreNotifiedSets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer s.Close()

	if err := s.MarkNotified(ctx, watch.NotifyStart, "m1", "ev1"); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	if err := s.MarkNotified(ctx, watch.NotifyResult, "m1", "ev1"); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}

	// The two kinds are independent sets sharing match ids.
	for _, kind := range []watch.NotifyKind{watch.NotifyStart, watch.NotifyResult} {
		ok, err := s.IsNotified(ctx, kind, "m1")
		if err != nil || !ok {
			t.Fatalf("IsNotified(%v): ok=%v err=%v", kind, ok, err)
		}
	}
	ok, err := s.IsNotified(ctx, watch.NotifyStart, "m2")
	if err != nil || ok {
		t.Fatalf("unmarked id reported notified: ok=%v err=%v", ok, err)
	}

	if err := s.MarkNotified(ctx, watch.NotifyResult, "m2", "ev2"); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	if err := s.ClearEventNotified(ctx, "ev1"); err != nil {
		t.Fatalf("ClearEventNotified: %v", err)
	}
	if ok, _ := s.IsNotified(ctx, watch.NotifyStart, "m1"); ok {
		t.Fatal("ev1 entries must be cleared")
	}
	if ok, _ := s.IsNotified(ctx, watch.NotifyResult, "m2"); !ok {
		t.Fatal("ev2 entries must survive clearing ev1")
	}
}

func TestFileStoreCleanNotified(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.json"))
	defer s.Close()

	_ = s.MarkNotified(ctx, watch.NotifyStart, "keep", "ev1")
	_ = s.MarkNotified(ctx, watch.NotifyStart, "drop1", "ev1")
	_ = s.MarkNotified(ctx, watch.NotifyResult, "keep", "ev1")
	_ = s.MarkNotified(ctx, watch.NotifyResult, "drop2", "ev1")

	removed, err := s.CleanNotified(ctx, map[string]struct{}{"keep": {}})
	if err != nil {
		t.Fatalf("CleanNotified: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removals, got %d", removed)
	}
	if ok, _ := s.IsNotified(ctx, watch.NotifyStart, "keep"); !ok {
		t.Fatal("valid entry dropped")
	}

	removed, err = s.CleanNotified(ctx, map[string]struct{}{"keep": {}})
	if err != nil || removed != 0 {
		t.Fatalf("second clean: removed=%d err=%v", removed, err)
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	s := openTestStore(t, path)
	sub := watch.Subscription{EventID: "ev1", Title: "Cup", StartDate: "06-20", EndDate: "06-25"}
	if _, err := s.ReplaceSubscription(ctx, 100, sub); err != nil {
		t.Fatalf("ReplaceSubscription: %v", err)
	}
	if err := s.MarkNotified(ctx, watch.NotifyResult, "r1", "ev1"); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2 := openTestStore(t, path)
	defer s2.Close()

	subs, err := s2.Subscriptions(ctx)
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	got, ok := subs["ev1"]
	if !ok || got.Title != "Cup" || got.EndDate != "06-25" {
		t.Fatalf("subscription lost across reopen: %+v", subs)
	}
	if ok, _ := s2.IsNotified(ctx, watch.NotifyResult, "r1"); !ok {
		t.Fatal("notified entry lost across reopen")
	}
	if ok, _ := s2.IsNotified(ctx, watch.NotifyStart, "r1"); ok {
		t.Fatal("kind mixup after reopen")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected an error for an unknown driver")
	}
}
