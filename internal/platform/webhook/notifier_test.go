package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/events"
)

const testSecret = "whsec-test"

type received struct {
	body      []byte
	signature string
	id        string
	timestamp string
}

// recorder is an endpoint that answers with the queued statuses, then 200.
type recorder struct {
	mu       sync.Mutex
	requests []received
	statuses []int
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.requests = append(r.requests, received{
		body:      body,
		signature: req.Header.Get(SignatureHeader),
		id:        req.Header.Get(IDHeader),
		timestamp: req.Header.Get(TimestampHeader),
	})
	status := http.StatusOK
	if len(r.statuses) > 0 {
		status, r.statuses = r.statuses[0], r.statuses[1:]
	}
	r.mu.Unlock()
	w.WriteHeader(status)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func newTestNotifier(t *testing.T, urls []string, opts ...Option) *Notifier {
	t.Helper()
	opts = append([]Option{WithRetryDelays(time.Millisecond)}, opts...)
	n, err := NewNotifier(urls, testSecret, zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewNotifier: %v", err)
	}
	return n
}

func sampleEvent() events.Event {
	return events.Event{
		Name:          events.AppointmentCompleted,
		AppointmentID: "a-1",
		PatientID:     "p-1",
		DoctorID:      "d-1",
		Status:        "completed",
		At:            time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestSignPayload_Verify(t *testing.T) {
	payload := []byte(`{"event":"appointmentUpdated"}`)
	sig := SignPayload(payload, "secret")

	if len(sig) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(sig))
	}
	if !VerifySignature(payload, "secret", sig) {
		t.Error("expected bare signature to verify")
	}
	if !VerifySignature(payload, "secret", "sha256="+sig) {
		t.Error("expected prefixed signature to verify")
	}
	if VerifySignature(payload, "other", sig) {
		t.Error("expected wrong secret to fail")
	}
	if VerifySignature([]byte(`{}`), "secret", sig) {
		t.Error("expected tampered payload to fail")
	}
}

func TestNewNotifier_Validation(t *testing.T) {
	tests := []struct {
		name   string
		urls   []string
		secret string
	}{
		{"bad scheme", []string{"ftp://example.com/hook"}, testSecret},
		{"missing host", []string{"http:///hook"}, testSecret},
		{"missing secret", []string{"https://example.com/hook"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewNotifier(tt.urls, tt.secret, zerolog.Nop()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNotifier_DeliverSignsPayload(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	n := newTestNotifier(t, []string{srv.URL})
	results := n.Deliver(context.Background(), sampleEvent())

	if len(results) != 1 || !results[0].Success {
		t.Fatalf("unexpected results %+v", results)
	}
	if results[0].StatusCode != http.StatusOK || results[0].Attempt != 1 {
		t.Errorf("unexpected delivery %+v", results[0])
	}
	if rec.count() != 1 {
		t.Fatalf("expected one request, got %d", rec.count())
	}

	got := rec.requests[0]
	if !VerifySignature(got.body, testSecret, got.signature) {
		t.Errorf("signature %q does not match body", got.signature)
	}
	if got.id != results[0].ID || got.timestamp == "" {
		t.Errorf("unexpected headers id=%q timestamp=%q", got.id, got.timestamp)
	}

	var ev events.Event
	if err := json.Unmarshal(got.body, &ev); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if ev.Name != events.AppointmentCompleted || ev.AppointmentID != "a-1" {
		t.Errorf("unexpected body %+v", ev)
	}
}

func TestNotifier_RetriesServerErrors(t *testing.T) {
	rec := &recorder{statuses: []int{http.StatusServiceUnavailable, http.StatusTooManyRequests}}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	n := newTestNotifier(t, []string{srv.URL})
	d := n.Deliver(context.Background(), sampleEvent())[0]

	if !d.Success || d.Attempt != 3 {
		t.Fatalf("expected success on third attempt, got %+v", d)
	}
	if rec.count() != 3 {
		t.Fatalf("expected 3 requests, got %d", rec.count())
	}
	for _, r := range rec.requests {
		if r.id != d.ID {
			t.Errorf("expected stable delivery id %q, got %q", d.ID, r.id)
		}
	}
}

func TestNotifier_ClientErrorIsFinal(t *testing.T) {
	rec := &recorder{statuses: []int{http.StatusBadRequest}}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	n := newTestNotifier(t, []string{srv.URL})
	d := n.Deliver(context.Background(), sampleEvent())[0]

	if d.Success || d.StatusCode != http.StatusBadRequest || d.Error == "" {
		t.Errorf("unexpected delivery %+v", d)
	}
	if rec.count() != 1 {
		t.Errorf("expected no retry, got %d requests", rec.count())
	}
}

func TestNotifier_GivesUpAfterMaxRetries(t *testing.T) {
	rec := &recorder{statuses: []int{500, 500, 500, 500, 500}}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	n := newTestNotifier(t, []string{srv.URL}, WithMaxRetries(2))
	d := n.Deliver(context.Background(), sampleEvent())[0]

	if d.Success || d.Attempt != 3 {
		t.Errorf("unexpected delivery %+v", d)
	}
	if rec.count() != 3 {
		t.Errorf("expected 3 requests, got %d", rec.count())
	}
}

func TestNotifier_UnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	n := newTestNotifier(t, []string{url}, WithMaxRetries(1))
	d := n.Deliver(context.Background(), sampleEvent())[0]
	if d.Success || d.StatusCode != 0 || d.Error == "" || d.Attempt != 2 {
		t.Errorf("unexpected delivery %+v", d)
	}
}

func TestNotifier_CancelStopsRetrying(t *testing.T) {
	rec := &recorder{statuses: []int{500, 500}}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	n := newTestNotifier(t, []string{srv.URL}, WithRetryDelays(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	d := n.Deliver(ctx, sampleEvent())[0]
	if d.Success || d.Attempt != 1 {
		t.Errorf("unexpected delivery %+v", d)
	}
}

func TestNotifier_RunForwardsBusEvents(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	bus := events.NewBus(zerolog.Nop())
	n := newTestNotifier(t, []string{srv.URL, srv.URL + "/second"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Run(ctx, bus.Subscribe(8))
		close(done)
	}()

	bus.Publish(ctx, sampleEvent())

	deadline := time.Now().Add(2 * time.Second)
	for hits.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hits.Load() != 2 {
		t.Errorf("expected one delivery per endpoint, got %d", hits.Load())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
