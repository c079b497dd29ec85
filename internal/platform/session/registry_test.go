package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/auth"
)

func requestAs(e *echo.Echo, p *auth.Principal) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil)
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRegistry_TouchStartsSession(t *testing.T) {
	r := NewRegistry(time.Hour, zerolog.Nop())
	defer r.Close()

	if err := r.Touch("s-1", "u-1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if err := r.Touch("s-1", "u-1"); err != nil {
		t.Fatalf("second Touch: %v", err)
	}
	if r.Active() != 1 {
		t.Errorf("expected 1 live session, got %d", r.Active())
	}
}

func TestRegistry_ExpiredSessionRejected(t *testing.T) {
	r := NewRegistry(30*time.Millisecond, zerolog.Nop())
	defer r.Close()

	if err := r.Touch("s-1", "u-1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for r.Active() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session did not expire")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := r.Touch("s-1", "u-1"); err != ErrSessionEnded {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
}

func TestRegistry_Logout(t *testing.T) {
	r := NewRegistry(time.Hour, zerolog.Nop())
	defer r.Close()

	_ = r.Touch("s-1", "u-1")
	r.Logout("s-1")

	if r.Active() != 0 {
		t.Errorf("expected no live sessions, got %d", r.Active())
	}
	if err := r.Touch("s-1", "u-1"); err != ErrSessionEnded {
		t.Errorf("expected ErrSessionEnded after logout, got %v", err)
	}
	// Unknown ids are remembered too.
	r.Logout("never-seen")
	if err := r.Touch("never-seen", "u-2"); err != ErrSessionEnded {
		t.Errorf("expected ErrSessionEnded, got %v", err)
	}
}

func TestRegistry_PrunesOldEndedSessions(t *testing.T) {
	r := NewRegistry(time.Hour, zerolog.Nop())
	defer r.Close()

	base := time.Now()
	r.now = func() time.Time { return base }
	r.Logout("old")

	r.now = func() time.Time { return base.Add(endedRetention + time.Minute) }
	_ = r.Touch("fresh", "u")

	if err := r.Touch("old", "u"); err != nil {
		t.Errorf("expected pruned session id to be usable, got %v", err)
	}
}

func TestTrack_Middleware(t *testing.T) {
	e := echo.New()
	r := NewRegistry(time.Hour, zerolog.Nop())
	defer r.Close()
	mw := r.Track()

	p := &auth.Principal{UserID: "u-1", SessionID: "s-1", Roles: []string{auth.RolePatient}}
	c, rec := requestAs(e, p)
	if err := mw(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	r.Logout("s-1")
	c, _ = requestAs(e, p)
	err := mw(okHandler)(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %v", err)
	}

	// Requests without a principal or session id are not tracked.
	c, _ = requestAs(e, nil)
	if err := mw(okHandler)(c); err != nil {
		t.Errorf("anonymous request: unexpected error %v", err)
	}
	c, _ = requestAs(e, &auth.Principal{UserID: "dev"})
	if err := mw(okHandler)(c); err != nil {
		t.Errorf("sessionless request: unexpected error %v", err)
	}
}

func TestTrack_PublicPathsNotTracked(t *testing.T) {
	e := echo.New()
	r := NewRegistry(time.Hour, zerolog.Nop())
	defer r.Close()
	mw := r.Track()

	p := &auth.Principal{UserID: "u-1", SessionID: "s-1", Roles: []string{auth.RolePatient}}
	c, rec := requestAs(e, p)
	c.SetPath("/health")
	if err := mw(okHandler)(c); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("health check: code %d, err %v", rec.Code, err)
	}
	if r.Active() != 0 {
		t.Errorf("public path must not start a session, got %d live", r.Active())
	}

	if err := r.Touch("s-1", "u-1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	r.Logout("s-1")
	c, rec = requestAs(e, p)
	c.SetPath("/health/db")
	if err := mw(okHandler)(c); err != nil || rec.Code != http.StatusOK {
		t.Errorf("ended session on a public path: code %d, err %v", rec.Code, err)
	}
}

func TestLogoutHandler(t *testing.T) {
	e := echo.New()
	r := NewRegistry(time.Hour, zerolog.Nop())
	defer r.Close()

	p := &auth.Principal{UserID: "u-1", SessionID: "s-9"}
	_ = r.Touch("s-9", "u-1")

	c, rec := requestAs(e, p)
	if err := r.handleLogout(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if err := r.Touch("s-9", "u-1"); err != ErrSessionEnded {
		t.Errorf("expected session to be ended, got %v", err)
	}

	c, _ = requestAs(e, nil)
	err := r.handleLogout(c)
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without principal, got %v", err)
	}
}
