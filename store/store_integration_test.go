package store

import (
	"context"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/taskforge-ai/taskforge/workflow"
)

// startTestNATSServer starts an embedded NATS server with JetStream.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()

	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	server, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func newTestStore(t *testing.T) *Store {
	t.Helper()

	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := New(ctx, js, Config{SessionTTL: time.Hour, ReviewTTL: time.Hour})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return s
}

func TestJetStreamSessionLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)

	sess := testSession(t)
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Goal != sess.Goal {
		t.Errorf("goal = %q, want %q", got.Goal, sess.Goal)
	}

	if err := got.Transition(workflow.SessionStatusExecuting); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if err := s.SaveSession(ctx, got); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	reread, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if reread.Status != workflow.SessionStatusExecuting {
		t.Errorf("status = %q, want executing", reread.Status)
	}
	if reread.Version <= sess.Version {
		t.Errorf("version did not advance: %d -> %d", sess.Version, reread.Version)
	}
}

func TestJetStreamStaleWriteRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)

	sess := testSession(t)
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	first, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	second, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}

	first.Reasoning = "winner"
	if err := s.SaveSession(ctx, first); err != nil {
		t.Fatalf("first save: %v", err)
	}

	second.Reasoning = "loser"
	if err := s.SaveSession(ctx, second); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale save = %v, want ErrConflict", err)
	}

	got, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Reasoning != "winner" {
		t.Errorf("reasoning = %q, want winner", got.Reasoning)
	}
}

func TestJetStreamReviewFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded NATS test in short mode")
	}

	ctx := context.Background()
	s := newTestStore(t)

	item := testReviewItem(t, "sess-itg00001", 0.82)
	if err := s.CreateReview(ctx, item); err != nil {
		t.Fatalf("CreateReview: %v", err)
	}

	pending, err := s.ListReviews(ctx, workflow.ReviewStatusPending)
	if err != nil {
		t.Fatalf("ListReviews: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}

	got := pending[0]
	if _, err := got.Resolve(workflow.ReviewStatusApproved, "verified manually"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := s.SaveReview(ctx, got); err != nil {
		t.Fatalf("SaveReview: %v", err)
	}

	pending, err = s.ListReviews(ctx, workflow.ReviewStatusPending)
	if err != nil {
		t.Fatalf("ListReviews: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending after resolve = %d, want 0", len(pending))
	}

	final, err := s.GetReview(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if final.Status != workflow.ReviewStatusApproved {
		t.Errorf("status = %q, want approved", final.Status)
	}
	if final.ReviewerNotes != "verified manually" {
		t.Errorf("notes = %q", final.ReviewerNotes)
	}
}
