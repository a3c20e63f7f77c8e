package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func TestWebhookNotifierPostsEvent(t *testing.T) {
	var got Event
	var eventHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		eventHeader = r.Header.Get("X-Event-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ev := NewEvent(EventSLABreached, "ticket", "tk-1", map[string]any{"priority": "high"}, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	n := WebhookNotifier{URL: srv.URL}
	if err := n.Enqueue(context.Background(), ev); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if eventHeader != EventSLABreached {
		t.Fatalf("expected X-Event-Type %s, got %q", EventSLABreached, eventHeader)
	}
	if got.ID != ev.ID || got.EntityID != "tk-1" {
		t.Fatalf("unexpected event delivered: %+v", got)
	}
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := WebhookNotifier{URL: srv.URL}
	err := n.Enqueue(context.Background(), NewEvent(EventTaskCreated, "task", "t1", nil, time.Now()))
	if err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestDedupeKeyIgnoresEventID(t *testing.T) {
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	a := NewEvent(EventSLABreached, "ticket", "tk-1", nil, at)
	b := NewEvent(EventSLABreached, "ticket", "tk-1", nil, at.Add(time.Hour))
	if a.ID == b.ID {
		t.Fatalf("expected distinct event ids")
	}
	if a.DedupeKey() != b.DedupeKey() {
		t.Fatalf("expected same dedupe key, got %s vs %s", a.DedupeKey(), b.DedupeKey())
	}
}

func TestRedisNotifierDedupes(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	queue := "gymops:test:" + time.Now().Format("150405.000000000")
	n, err := NewRedisNotifier(ctx, url, queue, time.Minute)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer n.Close()
	defer n.client.Del(ctx, queue)

	ev := NewEvent(EventSLABreached, "ticket", "tk-1", nil, time.Now())
	for i := 0; i < 2; i++ {
		if err := n.Enqueue(ctx, ev); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	depth, err := n.client.LLen(ctx, queue).Result()
	if err != nil {
		t.Fatalf("llen: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected 1 queued event, got %d", depth)
	}
	n.client.Del(ctx, n.dedupeKey(ev))
}

func TestRedisNotifierReleasesDedupeOnPushFailure(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	queue := "gymops:test:" + time.Now().Format("150405.000000000")
	n, err := NewRedisNotifier(ctx, url, queue, time.Minute)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer n.Close()
	defer n.client.Del(ctx, queue)

	// A string at the queue key makes LPUSH fail with WRONGTYPE.
	if err := n.client.Set(ctx, queue, "blocked", time.Minute).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	ev := NewEvent(EventSLABreached, "ticket", "tk-2", nil, time.Now())
	if err := n.Enqueue(ctx, ev); err == nil {
		t.Fatalf("expected push to fail")
	}
	if exists, _ := n.client.Exists(ctx, n.dedupeKey(ev)).Result(); exists != 0 {
		t.Fatalf("dedupe key must be released after a failed push")
	}

	n.client.Del(ctx, queue)
	if err := n.Enqueue(ctx, ev); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if depth, _ := n.client.LLen(ctx, queue).Result(); depth != 1 {
		t.Fatalf("expected the retry to be queued, got depth %d", depth)
	}
	n.client.Del(ctx, n.dedupeKey(ev))
}
