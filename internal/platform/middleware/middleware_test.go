package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/auth"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated", "", false},
		{"propagated", "booking-7f3a.2", true},
		{"too long", strings.Repeat("a", maxRequestIDLen+1), false},
		{"unsafe characters", "id\nInjected: 1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()

			var seen string
			err := RequestID()(func(c echo.Context) error {
				seen = RequestIDFromContext(c.Request().Context())
				return nil
			})(e.NewContext(req, rec))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
				t.Fatalf("context id %q, header %q", seen, rec.Header().Get(RequestIDHeader))
			}
			if (seen == tt.incoming) != tt.keep {
				t.Errorf("incoming %q, got %q", tt.incoming, seen)
			}
		})
	}
}

// chain runs h behind RequestID, Logger and an auth step the way the server
// orders them, and returns the decoded log line.
func chain(t *testing.T, principal *auth.Principal, h echo.HandlerFunc) (map[string]interface{}, error) {
	t.Helper()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	authStep := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if principal != nil {
				c.SetRequest(c.Request().WithContext(auth.WithPrincipal(c.Request().Context(), principal)))
			}
			return next(c)
		}
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/appointments", nil)
	req.Header.Set(RequestIDHeader, "rid-1")
	c := e.NewContext(req, httptest.NewRecorder())

	err := Recovery(logger)(RequestID()(Logger(logger)(authStep(h))))(c)

	var line map[string]interface{}
	if jerr := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); jerr != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), jerr)
	}
	return line, err
}

func TestLogger_Levels(t *testing.T) {
	tests := []struct {
		name      string
		handler   echo.HandlerFunc
		wantLevel string
		status    float64
	}{
		{"ok", func(c echo.Context) error { return c.NoContent(http.StatusCreated) }, "info", 201},
		{"conflict", func(c echo.Context) error { return echo.NewHTTPError(http.StatusConflict, "slot already booked") }, "warn", 409},
		{"store down", func(c echo.Context) error { return echo.NewHTTPError(http.StatusServiceUnavailable, "down") }, "error", 503},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, _ := chain(t, &auth.Principal{UserID: "pat-1"}, tt.handler)
			if line["level"] != tt.wantLevel || line["status"] != tt.status {
				t.Errorf("unexpected log line %v", line)
			}
			if line["user_id"] != "pat-1" || line["request_id"] != "rid-1" {
				t.Errorf("expected caller and request id, got %v", line)
			}
		})
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	line, err := chain(t, nil, func(c echo.Context) error {
		panic("nil slot")
	})

	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %v", err)
	}
	if line["message"] != "panic recovered" || line["panic"] != "nil slot" || line["request_id"] != "rid-1" {
		t.Errorf("unexpected log line %v", line)
	}
}
