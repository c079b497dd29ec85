package session

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/auth"
)

var ErrSessionEnded = errors.New("session ended")

// endedRetention bounds how long ended session ids are remembered. Tokens
// outlive their session by at most their TTL.
const endedRetention = 24 * time.Hour

type entry struct {
	mgr      *Manager
	activity chan struct{}
}

// Registry keeps one Manager per session id.
type Registry struct {
	mu      sync.Mutex
	timeout time.Duration
	live    map[string]*entry
	ended   map[string]time.Time
	logger  zerolog.Logger
	now     func() time.Time
}

func NewRegistry(timeout time.Duration, logger zerolog.Logger) *Registry {
	return &Registry{
		timeout: timeout,
		live:    make(map[string]*entry),
		ended:   make(map[string]time.Time),
		logger:  logger.With().Str("component", "session").Logger(),
		now:     time.Now,
	}
}

// Touch records activity for a session, starting it on first use. It returns
// ErrSessionEnded once the session has expired or been logged out.
func (r *Registry) Touch(sessionID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ended[sessionID]; ok {
		return ErrSessionEnded
	}
	if e, ok := r.live[sessionID]; ok {
		select {
		case e.activity <- struct{}{}:
		default:
			// A reset is already pending.
		}
		return nil
	}

	r.pruneLocked()
	activity := make(chan struct{}, 1)
	e := &entry{activity: activity}
	e.mgr = NewManager(r.timeout, activity, func() {
		r.expire(sessionID, userID)
	})
	r.live[sessionID] = e
	return nil
}

func (r *Registry) expire(sessionID, userID string) {
	r.mu.Lock()
	delete(r.live, sessionID)
	r.ended[sessionID] = r.now()
	r.mu.Unlock()

	r.logger.Info().Str("session_id", sessionID).Str("user_id", userID).Msg("session expired after inactivity")
}

func (r *Registry) pruneLocked() {
	cutoff := r.now().Add(-endedRetention)
	for id, at := range r.ended {
		if at.Before(cutoff) {
			delete(r.ended, id)
		}
	}
}

// Logout ends a session immediately.
func (r *Registry) Logout(sessionID string) {
	r.mu.Lock()
	e := r.live[sessionID]
	delete(r.live, sessionID)
	r.ended[sessionID] = r.now()
	r.mu.Unlock()

	if e != nil {
		e.mgr.Logout()
	}
}

// Active returns the number of live sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Close stops every live session.
func (r *Registry) Close() {
	r.mu.Lock()
	live := r.live
	r.live = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range live {
		e.mgr.Logout()
	}
}

// Track is echo middleware that counts each authenticated request as session
// activity and rejects requests on ended sessions. Requests without a session
// id and requests to public paths pass through untouched.
func (r *Registry) Track() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if auth.IsPublicPath(c.Path()) {
				return next(c)
			}
			p := auth.PrincipalFromContext(c.Request().Context())
			if p == nil || p.SessionID == "" {
				return next(c)
			}
			if err := r.Touch(p.SessionID, p.UserID); err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "session expired")
			}
			return next(c)
		}
	}
}

// RegisterRoutes mounts POST /auth/logout.
func (r *Registry) RegisterRoutes(g *echo.Group) {
	g.POST("/auth/logout", r.handleLogout)
}

func (r *Registry) handleLogout(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	if p.SessionID != "" {
		r.Logout(p.SessionID)
		r.logger.Info().Str("session_id", p.SessionID).Str("user_id", p.UserID).Msg("logged out")
	}
	return c.NoContent(http.StatusNoContent)
}
