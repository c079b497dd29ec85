// Package websocket streams appointment events to remote dashboards. Clients
// subscribe to topics and receive every bus event that maps to one of them.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/auth"
	"github.com/medibook/medibook/internal/platform/events"
)

// TopicAll receives every event. Only admins may subscribe to it.
const TopicAll = "appointments"

const writeWait = 10 * time.Second

// ClientMessage represents an inbound message from a WebSocket client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client represents a single WebSocket connection.
type Client struct {
	ID        string
	Topics    []string
	Send      chan []byte
	principal *auth.Principal
}

// Topic returns the topic for an owner kind and id, e.g. "doctor:42".
func Topic(kind, id string) string {
	return kind + ":" + id
}

// TopicsFor lists every topic an event is published under.
func TopicsFor(ev events.Event) []string {
	topics := []string{TopicAll}
	if ev.AppointmentID != "" {
		topics = append(topics, Topic("appointment", ev.AppointmentID))
	}
	if ev.PatientID != "" {
		topics = append(topics, Topic(auth.RolePatient, ev.PatientID))
	}
	if ev.DoctorID != "" {
		topics = append(topics, Topic(auth.RoleDoctor, ev.DoctorID))
	}
	if ev.HospitalID != "" {
		topics = append(topics, Topic(auth.RoleHospital, ev.HospitalID))
	}
	return topics
}

// DefaultTopics is what a principal is subscribed to on connect.
func DefaultTopics(p *auth.Principal) []string {
	if p == nil {
		return nil
	}
	for _, r := range p.Roles {
		if r == auth.RoleAdmin {
			return []string{TopicAll}
		}
	}
	var topics []string
	for _, r := range []string{auth.RolePatient, auth.RoleDoctor, auth.RoleHospital} {
		if p.HasRole(r) {
			topics = append(topics, Topic(r, p.UserID))
		}
	}
	return topics
}

// CanSubscribe reports whether p may follow topic. Non-admins may only follow
// their own owner topic.
func CanSubscribe(p *auth.Principal, topic string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == auth.RoleAdmin {
			return true
		}
	}
	kind, id, ok := strings.Cut(topic, ":")
	if !ok || id != p.UserID {
		return false
	}
	switch kind {
	case auth.RolePatient, auth.RoleDoctor, auth.RoleHospital:
		return p.HasRole(kind)
	}
	return false
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket").Logger(),
	}
}

// Register adds a client to the hub and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		h.addLocked(topic, client)
	}
}

func (h *Hub) addLocked(topic string, client *Client) {
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[*Client]struct{})
	}
	h.clients[topic][client] = struct{}{}
}

func (h *Hub) removeLocked(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Unregister removes a client from the hub and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds the topics the client's principal is allowed to follow and
// returns the ones it was refused.
func (h *Hub) Subscribe(client *Client, topics []string) (denied []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		if client.principal != nil && !CanSubscribe(client.principal, topic) {
			denied = append(denied, topic)
			continue
		}
		h.addLocked(topic, client)
		client.Topics = append(client.Topics, topic)
	}
	return denied
}

// Unsubscribe removes topics from an already-registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		removeSet[t] = struct{}{}
		h.removeLocked(t, client)
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage dispatches an inbound ClientMessage.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		if denied := h.Subscribe(client, msg.Topics); len(denied) > 0 {
			h.logger.Warn().Str("client_id", client.ID).Strs("topics", denied).Msg("subscription refused")
		}
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Dispatch sends ev once to every client subscribed to any of its topics.
func (h *Hub) Dispatch(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]struct{})
	for _, topic := range TopicsFor(ev) {
		for client := range h.clients[topic] {
			if _, dup := seen[client]; dup {
				continue
			}
			seen[client] = struct{}{}
			select {
			case client.Send <- data:
			default:
				// Client buffer full; skip to avoid blocking.
			}
		}
	}
}

// Run forwards bus events to clients until ctx is done or sub is closed.
func (h *Hub) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			h.Dispatch(ev)
		}
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to a specific topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Bearer credential is checked before the upgrade.
	},
}

// Handler upgrades HTTP connections and pumps events to them.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

// HandleConnect upgrades the connection, registers the client under its
// principal's default topics, and starts read/write pumps.
func (h *Handler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	p := auth.PrincipalFromContext(c.Request().Context())
	client := &Client{
		ID:        uuid.New().String(),
		Topics:    DefaultTopics(p),
		Send:      make(chan []byte, 256),
		principal: p,
	}
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
	ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
}
