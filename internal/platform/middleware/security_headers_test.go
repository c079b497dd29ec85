package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name     string
		cfg      SecurityConfig
		handler  echo.HandlerFunc
		wantHSTS bool
	}{
		{
			name:    "plain http",
			handler: func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		},
		{
			name:     "behind tls",
			cfg:      SecurityConfig{HSTS: true},
			handler:  func(c echo.Context) error { return c.NoContent(http.StatusOK) },
			wantHSTS: true,
		},
		{
			name:    "error response",
			handler: func(c echo.Context) error { return echo.NewHTTPError(http.StatusNotFound, "appointment not found") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil), rec)

			_ = SecurityHeaders(tt.cfg)(tt.handler)(c)

			for _, kv := range baseSecurityHeaders {
				if got := rec.Header().Get(kv[0]); got != kv[1] {
					t.Errorf("%s = %q, want %q", kv[0], got, kv[1])
				}
			}
			if hsts := rec.Header().Get("Strict-Transport-Security") != ""; hsts != tt.wantHSTS {
				t.Errorf("HSTS present = %v, want %v", hsts, tt.wantHSTS)
			}
		})
	}
}
