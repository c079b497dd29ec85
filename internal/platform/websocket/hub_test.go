package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/events"
)

func newClient(id string, p *auth.Principal, topics ...string) *Client {
	return &Client{
		ID:        id,
		Topics:    topics,
		Send:      make(chan []byte, 256),
		principal: p,
	}
}

func readEvent(t *testing.T, c *Client) events.Event {
	t.Helper()
	select {
	case msg := <-c.Send:
		var ev events.Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("client %s did not receive event", c.ID)
		return events.Event{}
	}
}

func expectEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Send:
		t.Fatalf("client %s should not have received an event", c.ID)
	default:
	}
}

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("client-1", nil, "doctor:d-1")

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("doctor:d-1") != 1 {
		t.Fatalf("expected 1 client on doctor:d-1, got %d", hub.TopicCount("doctor:d-1"))
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount("doctor:d-1") != 0 {
		t.Fatal("expected client to be fully removed")
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}
}

func TestHub_DispatchRoutesByOwner(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	doctor := newClient("doc", nil, "doctor:d-1")
	otherDoctor := newClient("other", nil, "doctor:d-2")
	patient := newClient("pat", nil, "patient:p-1")
	admin := newClient("admin", nil, TopicAll)
	for _, c := range []*Client{doctor, otherDoctor, patient, admin} {
		hub.Register(c)
	}

	hub.Dispatch(events.Event{
		Name:          events.AppointmentUpdated,
		AppointmentID: "apt-1",
		PatientID:     "p-1",
		DoctorID:      "d-1",
		Status:        "upcoming",
	})

	for _, c := range []*Client{doctor, patient, admin} {
		ev := readEvent(t, c)
		if ev.AppointmentID != "apt-1" || ev.Name != events.AppointmentUpdated {
			t.Errorf("client %s got unexpected event %+v", c.ID, ev)
		}
	}
	expectEmpty(t, otherDoctor)
}

func TestHub_DispatchDeliversOncePerClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("multi", nil, TopicAll, "doctor:d-1", "appointment:apt-1")
	hub.Register(c)

	hub.Dispatch(events.Event{Name: events.AppointmentCompleted, AppointmentID: "apt-1", DoctorID: "d-1"})

	readEvent(t, c)
	expectEmpty(t, c)
}

func TestHub_DispatchSkipsFullBuffer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &Client{ID: "slow", Topics: []string{TopicAll}, Send: make(chan []byte, 1)}
	hub.Register(c)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Dispatch(events.Event{Name: events.AppointmentUpdated})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a full client")
	}
}

func TestHub_SubscribeEnforcesOwnership(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	p := &auth.Principal{UserID: "d-1", Roles: []string{auth.RoleDoctor}}
	c := newClient("doc", p)
	hub.Register(c)

	denied := hub.Subscribe(c, []string{"doctor:d-1", "doctor:d-2", TopicAll, "patient:d-1"})
	if len(denied) != 3 {
		t.Fatalf("expected 3 denied topics, got %v", denied)
	}
	if hub.TopicCount("doctor:d-1") != 1 {
		t.Error("expected own topic to be accepted")
	}
	if hub.TopicCount(TopicAll) != 0 {
		t.Error("expected broadcast topic to be refused")
	}
}

func TestHub_ProcessMessage(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("admin", &auth.Principal{UserID: "a", Roles: []string{auth.RoleAdmin}})
	hub.Register(c)

	hub.ProcessMessage(c, ClientMessage{Action: "subscribe", Topics: []string{"hospital:h-1", "doctor:d-9"}})
	if hub.TopicCount("hospital:h-1") != 1 || hub.TopicCount("doctor:d-9") != 1 {
		t.Fatal("expected admin subscriptions to be accepted")
	}

	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{"doctor:d-9"}})
	if hub.TopicCount("doctor:d-9") != 0 {
		t.Error("expected doctor:d-9 to be removed")
	}
	if len(c.Topics) != 1 || c.Topics[0] != "hospital:h-1" {
		t.Errorf("unexpected remaining topics %v", c.Topics)
	}

	hub.ProcessMessage(c, ClientMessage{Action: "bogus", Topics: []string{"x"}})
	if hub.TopicCount("x") != 0 {
		t.Error("unknown action must be ignored")
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient("c", nil, TopicAll)
			hub.Register(c)
			hub.Dispatch(events.Event{Name: events.AppointmentUpdated})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHub_RunForwardsBusEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	bus := events.NewBus(zerolog.Nop())
	c := newClient("c", nil, "hospital:h-1")
	hub.Register(c)

	sub := bus.Subscribe(8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx, sub)
		close(done)
	}()

	bus.Publish(ctx, events.Event{Name: events.AppointmentUpdated, AppointmentID: "apt-7", HospitalID: "h-1"})
	if ev := readEvent(t, c); ev.AppointmentID != "apt-7" {
		t.Errorf("unexpected event %+v", ev)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
	sub.Close()
}

func TestDefaultTopics(t *testing.T) {
	tests := []struct {
		name string
		p    *auth.Principal
		want []string
	}{
		{"nil", nil, nil},
		{"admin", &auth.Principal{UserID: "a", Roles: []string{auth.RoleAdmin}}, []string{TopicAll}},
		{"doctor", &auth.Principal{UserID: "d", Roles: []string{auth.RoleDoctor}}, []string{"doctor:d"}},
		{"patient", &auth.Principal{UserID: "p", Roles: []string{auth.RolePatient}}, []string{"patient:p"}},
		{"trainer", &auth.Principal{UserID: "t", Roles: []string{auth.RoleTrainer}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultTopics(tt.p)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestStreamURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8000": "ws://localhost:8000/ws",
		"https://api.example/":  "wss://api.example/ws",
		"http://host/prefix":    "ws://host/prefix/ws",
	}
	for in, want := range tests {
		got, err := StreamURL(in)
		if err != nil {
			t.Fatalf("StreamURL(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("StreamURL(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := StreamURL("ftp://host"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func TestHandler_HandleConnectRequiresWebSocket(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = h.HandleConnect(c)
	if hub.ClientCount() != 0 {
		t.Fatal("plain HTTP request must not register a client")
	}
}

func TestHandler_FullUpgradeWithStream(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub)

	e := echo.New()
	g := e.Group("", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := &auth.Principal{UserID: "d-1", Roles: []string{auth.RoleDoctor}}
			c.SetRequest(c.Request().WithContext(auth.WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	})
	h.RegisterRoutes(g)

	server := httptest.NewServer(e)
	defer server.Close()

	stream, err := Dial(context.Background(), server.URL, "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer stream.Close()

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount("doctor:d-1") != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client was not registered under its default topic")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Dispatch(events.Event{Name: events.AppointmentUpdated, AppointmentID: "apt-ws", DoctorID: "d-1"})

	got := make(chan events.Event, 1)
	go func() {
		ev, err := stream.Next()
		if err == nil {
			got <- ev
		}
	}()
	select {
	case ev := <-got:
		if ev.AppointmentID != "apt-ws" {
			t.Fatalf("expected apt-ws, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not receive the event")
	}
}
