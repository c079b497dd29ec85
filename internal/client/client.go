// Package client is a typed client for the medibook REST API, used by the
// command line the way the web front end uses the service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/domain/scheduling"
)

// DefaultTimeout bounds every request unless WithHTTPClient says otherwise.
const DefaultTimeout = 15 * time.Second

// APIError is a non-2xx answer from the service. Field is set for
// validation failures.
type APIError struct {
	StatusCode int
	Field      string
	Message    string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Field, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithToken sets the bearer credential sent with every request.
func WithToken(token string) Option {
	return func(cl *Client) { cl.token = token }
}

func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithTimeout replaces the default request timeout.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.httpClient = &http.Client{Timeout: d} }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }
func (c *Client) Token() string   { return c.token }

func ownerQuery(owner scheduling.Owner) url.Values {
	q := url.Values{}
	if owner.ID == "" {
		return q
	}
	switch owner.Kind {
	case scheduling.OwnerDoctor:
		q.Set("doctor_id", owner.ID)
	case scheduling.OwnerHospital:
		q.Set("hospital_id", owner.ID)
	case scheduling.OwnerPatient:
		q.Set("patient_id", owner.ID)
	}
	return q
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + "/api/v1" + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// decodeError reads both {"message": "..."} and {"field": ..., "message": ...}.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		apiErr.Field, apiErr.Message = body.Field, body.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}

// -- Slots --

// ListSlots returns the bookable slots of a doctor or hospital. When the
// catalog cannot be reached it returns an empty list together with the
// error, which callers show as a warning.
func (c *Client) ListSlots(ctx context.Context, owner scheduling.Owner) ([]*scheduling.ScheduleSlot, error) {
	var slots []*scheduling.ScheduleSlot
	if err := c.do(ctx, http.MethodGet, "/slots", ownerQuery(owner), nil, &slots); err != nil {
		c.logger.Warn().Err(err).Str("owner", owner.String()).Msg("slot catalog unavailable")
		return []*scheduling.ScheduleSlot{}, err
	}
	if slots == nil {
		slots = []*scheduling.ScheduleSlot{}
	}
	return slots, nil
}

func (c *Client) CreateSlot(ctx context.Context, req scheduling.SlotRequest) (*scheduling.ScheduleSlot, error) {
	var slot scheduling.ScheduleSlot
	if err := c.do(ctx, http.MethodPost, "/slots", nil, req, &slot); err != nil {
		return nil, err
	}
	return &slot, nil
}

// -- Appointments --

// Book submits a booking for the authenticated patient.
func (c *Client) Book(ctx context.Context, req scheduling.BookingRequest) (*scheduling.BookingResult, error) {
	var res scheduling.BookingResult
	if err := c.do(ctx, http.MethodPost, "/appointments", nil, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Get(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	var a scheduling.Appointment
	if err := c.do(ctx, http.MethodGet, "/appointments/"+id.String(), nil, nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns the appointments of owner, or the caller's own when owner is
// empty.
func (c *Client) List(ctx context.Context, owner scheduling.Owner) ([]*scheduling.Appointment, error) {
	var items []*scheduling.Appointment
	if err := c.do(ctx, http.MethodGet, "/appointments", ownerQuery(owner), nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

type statusBody struct {
	Action       string `json:"action"`
	Note         string `json:"note,omitempty"`
	Prescription string `json:"prescription,omitempty"`
}

// Transition applies approve, cancel (or reject) or complete.
func (c *Client) Transition(ctx context.Context, id uuid.UUID, action string, in scheduling.TransitionInput) (*scheduling.Appointment, error) {
	var a scheduling.Appointment
	body := statusBody{Action: action, Note: in.Note, Prescription: in.Prescription}
	if err := c.do(ctx, http.MethodPatch, "/appointments/"+id.String()+"/status", nil, body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) Approve(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	return c.Transition(ctx, id, string(scheduling.ActionApprove), scheduling.TransitionInput{})
}

func (c *Client) Cancel(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error) {
	return c.Transition(ctx, id, string(scheduling.ActionCancel), scheduling.TransitionInput{})
}

func (c *Client) Complete(ctx context.Context, id uuid.UUID, in scheduling.TransitionInput) (*scheduling.Appointment, error) {
	return c.Transition(ctx, id, string(scheduling.ActionComplete), in)
}

func (c *Client) Reschedule(ctx context.Context, id uuid.UUID, req scheduling.RescheduleRequest) (*scheduling.Appointment, error) {
	var a scheduling.Appointment
	if err := c.do(ctx, http.MethodPost, "/appointments/"+id.String()+"/reschedule", nil, req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) AddNote(ctx context.Context, id uuid.UUID, text string) (*scheduling.Appointment, error) {
	var a scheduling.Appointment
	body := map[string]string{"text": text}
	if err := c.do(ctx, http.MethodPost, "/appointments/"+id.String()+"/notes", nil, body, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Dashboard fetches the derived counts of a doctor or hospital.
func (c *Client) Dashboard(ctx context.Context, owner scheduling.Owner) (*scheduling.DashboardCounts, error) {
	var counts scheduling.DashboardCounts
	if err := c.do(ctx, http.MethodGet, "/dashboard", ownerQuery(owner), nil, &counts); err != nil {
		return nil, err
	}
	return &counts, nil
}

// Logout ends the server-side idle session of the current token.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, nil)
}
