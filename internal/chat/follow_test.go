package chat

import (
	"context"
	"iter"
	"testing"
	"time"

	"gemchat/internal/completion"
	"gemchat/internal/models"
)

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFollowReloadsOnExternalChange(t *testing.T) {
	c, store := newTestController(t, &fakeCompleter{}, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan string)
	done := make(chan struct{})
	go func() {
		c.Follow(ctx, changes)
		close(done)
	}()

	external := []*models.Session{{ID: 42, Title: "From elsewhere", UpdatedAt: 1_800_000_000_000}}
	if err := store.SaveSessions(ctx, external); err != nil {
		t.Fatalf("save sessions: %v", err)
	}
	changes <- "sessions"

	eventually(t, "reload", func() bool {
		active := c.Active()
		return active != nil && active.ID == 42
	})

	close(changes)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Follow did not return after changes closed")
	}
}

func TestFollowDefersReloadUntilIdle(t *testing.T) {
	fc := &fakeCompleter{}
	c, store := newTestController(t, fc, true)
	release := make(chan struct{})
	fc.setScript(func(ctx context.Context, req completion.Request) (iter.Seq2[string, error], error) {
		return func(yield func(string, error) bool) {
			if !yield("partial", nil) {
				return
			}
			<-release
			yield(" done", nil)
		}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan string)
	go c.Follow(ctx, changes)

	sent := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), Input{Text: "hi"})
		sent <- err
	}()
	eventually(t, "send to start", c.Loading)

	if err := store.SaveSettings(ctx, models.UserSettings{APIKey: "AIzaOther", UserName: "other"}); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	changes <- "settings"
	// give Follow a chance to act on it
	time.Sleep(20 * time.Millisecond)
	if got := c.Settings().UserName; got != "tester" {
		t.Fatalf("reload must wait for the send, settings already %q", got)
	}

	close(release)
	if err := <-sent; err != nil {
		t.Fatalf("send: %v", err)
	}
	eventually(t, "deferred reload", func() bool {
		s := c.Settings()
		return s != nil && s.UserName == "other"
	})
	if msg := lastMessage(t, c.Active()); msg.Text != "partial done" {
		t.Fatalf("send result lost by reload: %q", msg.Text)
	}
}
