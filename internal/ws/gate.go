package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"twatter-messaging/internal/models"
	"twatter-messaging/internal/observability"
	"twatter-messaging/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	wsRoutingKey = "ws_events.messaging"
)

// Gate owns the websocket handshake: it authenticates the session cookie
// exactly once per connection, registers the connection, and runs its read
// loop. Unauthenticated connections never reach the registry.
type Gate struct {
	registry   *Registry
	sessions   *session.Validator
	handlers   *EventHandlers
	cookieName string
	maxPayload int64
}

// NewGate constructs a Gate.
func NewGate(registry *Registry, sessions *session.Validator, handlers *EventHandlers, cookieName string, maxPayload int64) *Gate {
	return &Gate{
		registry:   registry,
		sessions:   sessions,
		handlers:   handlers,
		cookieName: cookieName,
		maxPayload: maxPayload,
	}
}

// Handle upgrades the connection, validates the session and admits the
// client.
func (g *Gate) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("twatter-messaging/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	userID, err := g.authenticate(c.Request)
	if err != nil {
		// One-shot notification on the still-open transport, then
		// disconnect. The connection is never registered.
		payload, _ := models.NewEnvelope(models.EventUnauthorized, "You are not authorized")
		_ = conn.WriteMessage(websocket.TextMessage, payload)
		_ = conn.Close()
		observability.IncWSEvent("ws_unauthorized")
		return
	}

	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		BaseURL:     baseURL(c.Request),
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, info)
	g.registry.Register(userID, client)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(ctx, wsRoutingKey, connEnvelope("ws_connect", info, 0, ""), observability.BuildHeaders(requestID, traceID))

	// The request context is canceled as soon as this handler returns,
	// hijacked connection or not. The read loop and every handler call
	// downstream of it must outlive the handshake, so detach from the
	// cancel while keeping the trace values.
	go g.readLoop(context.WithoutCancel(ctx), conn, client)
}

func (g *Gate) authenticate(r *http.Request) (string, error) {
	cookie, err := r.Cookie(g.cookieName)
	if err != nil {
		return "", err
	}
	return g.sessions.Validate(cookie.Value)
}

func (g *Gate) readLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	var closeReason string
	done := make(chan struct{})
	defer func() {
		close(done)
		g.registry.Unregister(client.UserID, client)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		_ = observability.PublishEvent(ctx, wsRoutingKey,
			connEnvelope("ws_disconnect", client.Info, time.Since(client.Info.ConnectedAt).Milliseconds(), closeReason),
			observability.BuildHeaders(client.Info.RequestID, client.Info.TraceID))
		conn.Close()
	}()

	conn.SetReadLimit(g.maxPayload)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := client.ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
			}
			return
		}
		g.dispatch(ctx, client, raw)
	}
}

// dispatch decodes one inbound frame into its typed payload and runs the
// matching handler. Panics stop at this boundary: the process and the
// connection both survive a misbehaving handler.
func (g *Gate) dispatch(ctx context.Context, client *Client, raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("panic in event handler: %v", rec)
			_ = client.Send(models.EventError, models.ErrorEvent{Message: genericErrorMessage})
		}
	}()

	var envelope models.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		_ = client.Send(models.EventError, models.ErrorEvent{Message: "Malformed event"})
		return
	}

	ctx, span := otel.Tracer("twatter-messaging/ws").Start(ctx, "ws."+envelope.Event)
	defer span.End()

	switch envelope.Event {
	case models.EventMessage:
		var payload models.MessagePayload
		if !decode(client, envelope.Data, &payload) {
			return
		}
		g.handlers.HandleMessage(ctx, client, payload)
	case models.EventTyping:
		var payload models.TypingPayload
		if !decode(client, envelope.Data, &payload) {
			return
		}
		g.handlers.HandleTyping(ctx, client, payload)
	case models.EventMarkRead:
		var payload models.MarkReadPayload
		if !decode(client, envelope.Data, &payload) {
			return
		}
		g.handlers.HandleMarkRead(ctx, client, payload)
	case models.EventMarkSeen:
		var payload models.MarkSeenPayload
		if !decode(client, envelope.Data, &payload) {
			return
		}
		g.handlers.HandleMarkSeen(ctx, client, payload)
	case models.EventDeleteMsg:
		var payload models.DeleteMessagePayload
		if !decode(client, envelope.Data, &payload) {
			return
		}
		g.handlers.HandleDeleteMessage(ctx, client, payload)
	default:
		log.Printf("unknown ws event %q from user %s", envelope.Event, client.UserID)
	}
}

func decode(client *Client, data json.RawMessage, dst any) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		_ = client.Send(models.EventError, models.ErrorEvent{Message: "Malformed event"})
		return false
	}
	return true
}

func connEnvelope(event string, info ConnInfo, durationMs int64, reason string) observability.EventEnvelope {
	return observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": durationMs,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
