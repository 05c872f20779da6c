package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	domain "github.com/YunomiXavia/beQuanTri/internal/domain"
	"github.com/YunomiXavia/beQuanTri/internal/services"
)

func newFeedServer(t *testing.T, feed *OrderFeed, uid string, roles ...domain.Role) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		feed.ServeWS(w, withIdentity(r, uid, roles...))
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialFeed(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, feed *OrderFeed, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for feed.Len() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d feed clients, have %d", n, feed.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) services.OrderEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var event services.OrderEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return event
}

func TestOrderFeedFiltersByCollaborator(t *testing.T) {
	collaborators := &stubCollaboratorService{
		getByUserFn: func(_ context.Context, _ services.Caller, userID string) (services.Collaborator, error) {
			return services.Collaborator{ID: "col-" + userID, UserID: userID}, nil
		},
	}
	feed := NewOrderFeed(nil, collaborators, zap.NewNop())
	t.Cleanup(feed.Close)

	adminConn := dialFeed(t, newFeedServer(t, feed, "admin-1", "admin"))
	collabConn := dialFeed(t, newFeedServer(t, feed, "u7", "collaborator"))
	waitForClients(t, feed, 2)

	ctx := context.Background()
	events := []services.OrderEvent{
		{Type: "order.created", OrderID: "ord-1", CollaboratorID: "col-other", Status: domain.OrderStatusOpen},
		{Type: "order.processed", OrderID: "ord-2", CollaboratorID: "col-u7", Status: domain.OrderStatusInProgress},
	}
	for _, event := range events {
		if err := feed.PublishOrderEvent(ctx, event); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if got := readEvent(t, adminConn); got.OrderID != "ord-1" {
		t.Fatalf("admin expected ord-1 first, got %s", got.OrderID)
	}
	if got := readEvent(t, adminConn); got.OrderID != "ord-2" {
		t.Fatalf("admin expected ord-2, got %s", got.OrderID)
	}
	got := readEvent(t, collabConn)
	if got.OrderID != "ord-2" || got.Status != domain.OrderStatusInProgress {
		t.Fatalf("collaborator expected only ord-2, got %+v", got)
	}
}

func TestOrderFeedRejectsPlainUsers(t *testing.T) {
	feed := NewOrderFeed(nil, &stubCollaboratorService{}, nil)
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin/orders/feed", nil), "user-1", "user")
	rr := httptest.NewRecorder()
	feed.ServeWS(rr, req)
	assertErrorCode(t, rr, http.StatusForbidden, "forbidden")
	if feed.Len() != 0 {
		t.Fatalf("expected no registered clients")
	}
}

func TestOrderFeedUnknownCollaborator(t *testing.T) {
	collaborators := &stubCollaboratorService{
		getByUserFn: func(context.Context, services.Caller, string) (services.Collaborator, error) {
			return services.Collaborator{}, services.ErrCollaboratorNotFound
		},
	}
	feed := NewOrderFeed(nil, collaborators, nil)
	req := withIdentity(httptest.NewRequest(http.MethodGet, "/admin/orders/feed", nil), "u9", "collaborator")
	rr := httptest.NewRecorder()
	feed.ServeWS(rr, req)
	assertErrorCode(t, rr, http.StatusNotFound, "collaborator_not_found")
}

func TestOrderFeedDropsSlowClients(t *testing.T) {
	feed := NewOrderFeed(nil, nil, nil)
	client := &feedClient{send: make(chan []byte, 1), admin: true}
	feed.register(client)

	event := services.OrderEvent{Type: "order.created", OrderID: "ord-1"}
	if err := feed.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if feed.Len() != 1 {
		t.Fatalf("client should survive while its buffer has room")
	}
	if err := feed.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if feed.Len() != 0 {
		t.Fatalf("expected slow client to be dropped")
	}
	<-client.send
	if _, ok := <-client.send; ok {
		t.Fatalf("expected send channel to be closed")
	}
}
