package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/platform/auth"
	"github.com/YunomiXavia/beQuanTri/internal/platform/httpx"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

const (
	feedWriteWait      = 10 * time.Second
	feedPongWait       = 60 * time.Second
	feedPingPeriod     = feedPongWait * 9 / 10
	feedMaxMessageSize = 512
	feedSendBuffer     = 32
)

// OrderFeed is the live order hub behind GET /admin/orders/feed. It implements
// services.OrderEventPublisher so the order service can publish to it directly. Admins receive
// every event; collaborators only events for orders assigned to them. A client whose buffer is
// full is disconnected.
type OrderFeed struct {
	authn         *auth.Authenticator
	collaborators services.CollaboratorService
	logger        *zap.Logger
	upgrader      websocket.Upgrader

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
}

type feedClient struct {
	conn           *websocket.Conn
	send           chan []byte
	collaboratorID string
	admin          bool
}

func (c *feedClient) accepts(event services.OrderEvent) bool {
	return c.admin || (c.collaboratorID != "" && c.collaboratorID == event.CollaboratorID)
}

var _ services.OrderEventPublisher = (*OrderFeed)(nil)

// OrderFeedOption customises the feed.
type OrderFeedOption func(*OrderFeed)

// WithFeedOriginCheck overrides the websocket origin check.
func WithFeedOriginCheck(check func(r *http.Request) bool) OrderFeedOption {
	return func(f *OrderFeed) {
		if check != nil {
			f.upgrader.CheckOrigin = check
		}
	}
}

// NewOrderFeed constructs the hub. collaborators resolves the collaborator record of a
// connecting collaborator.
func NewOrderFeed(authn *auth.Authenticator, collaborators services.CollaboratorService, logger *zap.Logger, opts ...OrderFeedOption) *OrderFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &OrderFeed{
		authn:         authn,
		collaborators: collaborators,
		logger:        logger.Named("order_feed"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*feedClient]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Routes registers /admin/orders/feed.
func (f *OrderFeed) Routes(r chi.Router) {
	r.With(requireAuth(f.authn, domain.RoleAdmin, domain.RoleCollaborator)).Get("/orders/feed", f.ServeWS)
}

// ServeWS upgrades the request and registers the client.
func (f *OrderFeed) ServeWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := callerFromRequest(r)
	client := &feedClient{send: make(chan []byte, feedSendBuffer)}
	switch caller.Role {
	case domain.RoleAdmin:
		client.admin = true
	case domain.RoleCollaborator:
		if f.collaborators == nil {
			httpx.WriteError(ctx, w, httpx.NewError("unavailable", "collaborator directory unavailable", http.StatusServiceUnavailable))
			return
		}
		collaborator, err := f.collaborators.GetByUser(ctx, caller, caller.UserID)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		client.collaboratorID = collaborator.ID
	default:
		httpx.WriteError(ctx, w, httpx.NewError(errorForbiddenCode, "order feed requires admin or collaborator role", http.StatusForbidden))
		return
	}

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		f.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	client.conn = conn
	f.register(client)
	f.logger.Info("feed client connected",
		zap.String("userId", caller.UserID),
		zap.String("role", string(caller.Role)),
		zap.Int("clients", f.Len()),
	)

	go f.writePump(client)
	f.readPump(client)
}

// PublishOrderEvent broadcasts the event to every interested client.
func (f *OrderFeed) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	var slow []*feedClient
	f.mu.RLock()
	for client := range f.clients {
		if !client.accepts(event) {
			continue
		}
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	f.mu.RUnlock()

	for _, client := range slow {
		f.logger.Warn("dropping slow feed client", zap.String("collaboratorId", client.collaboratorID))
		f.unregister(client)
	}
	return nil
}

// Len reports the number of connected clients.
func (f *OrderFeed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Close disconnects every client.
func (f *OrderFeed) Close() {
	f.mu.Lock()
	clients := f.clients
	f.clients = make(map[*feedClient]struct{})
	f.mu.Unlock()
	for client := range clients {
		close(client.send)
	}
}

func (f *OrderFeed) register(client *feedClient) {
	f.mu.Lock()
	f.clients[client] = struct{}{}
	f.mu.Unlock()
}

// unregister removes the client and closes its send channel exactly once; writePump then
// sends a close frame and releases the connection.
func (f *OrderFeed) unregister(client *feedClient) {
	f.mu.Lock()
	_, ok := f.clients[client]
	if ok {
		delete(f.clients, client)
	}
	f.mu.Unlock()
	if ok {
		close(client.send)
	}
}

// readPump discards inbound messages and keeps the read deadline fresh with pongs.
func (f *OrderFeed) readPump(client *feedClient) {
	defer f.unregister(client)
	client.conn.SetReadLimit(feedMaxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Debug("feed client read failed", zap.Error(err))
			}
			return
		}
	}
}

func (f *OrderFeed) writePump(client *feedClient) {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()
	for {
		select {
		case data, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				f.unregister(client)
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.unregister(client)
				return
			}
		}
	}
}
