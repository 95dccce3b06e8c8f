package wire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relaywire/server/internal/v1/logging"
	"github.com/relaywire/server/internal/v1/metrics"
)

// probePayload is sent as the single PING frame at connection setup.
var probePayload = []byte{0x01}

// writeWait bounds how long the sender goroutine blocks on a single frame
// write, so a stalled peer cannot hang a sender goroutine forever.
const writeWait = 10 * time.Second

// webhookTimeout bounds the best-effort outbound POST for inbound text
// frames. The POST runs on the receiver goroutine, so a slow webhook stalls
// that goroutine for at most this long.
const webhookTimeout = 5 * time.Second

// Handler drives one connection through its Probing -> Registering ->
// Running -> Closing lifecycle.
type Handler struct {
	registry   *Registry
	webhookURL string
	httpClient *http.Client
}

// NewHandler builds a Handler bound to reg. webhookURL may be empty, in
// which case inbound text frames are logged only, never forwarded.
func NewHandler(reg *Registry, webhookURL string) *Handler {
	return &Handler{
		registry:   reg,
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: webhookTimeout},
	}
}

// Serve runs the full per-connection lifecycle for conn, which has already
// been admitted into room. It blocks until the connection terminates, at
// which point the client has been fully deregistered from the registry.
func (h *Handler) Serve(ctx context.Context, conn *websocket.Conn, room string) {
	// --- Probing ---
	if err := conn.WriteMessage(websocket.PingMessage, probePayload); err != nil {
		logging.Warn(ctx, "initial ping failed, closing without registering", zap.String("room", room), zap.Error(err))
		conn.Close()
		return
	}

	// --- Registering ---
	id := NewClientID()
	out := make(chan []byte, outboundBuffer)
	h.registry.AddClient(id, out)
	h.registry.JoinRoom(ctx, room, id)

	logging.Info(ctx, "client joined room", zap.Uint64("client", uint64(id)), zap.String("room", room))

	// --- Running ---
	done := make(chan struct{})
	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			close(done)
			conn.Close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer stop()
		h.sendLoop(ctx, conn, out, done)
	}()
	go func() {
		defer wg.Done()
		defer stop()
		h.receiveLoop(ctx, conn, id, room)
	}()
	wg.Wait()

	// --- Closing ---
	h.registry.RemoveClient(id)
	h.registry.LeaveRoom(room, id)
	logging.Info(ctx, "client left room", zap.Uint64("client", uint64(id)), zap.String("room", room))
}

// sendLoop drains out to the socket until done is closed (the receiver
// terminated first) or a write fails. It owns the write half of conn
// exclusively.
func (h *Handler) sendLoop(ctx context.Context, conn *websocket.Conn, out chan []byte, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case message, ok := <-out:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Debug(ctx, "wire send failed, terminating connection", zap.Error(err))
				return
			}
			metrics.WireFrames.WithLabelValues("text", "sent").Inc()
		}
	}
}

// receiveLoop reads frames from conn until it errors or the peer closes,
// dispatching each to the frame processor. It owns the read half of conn
// exclusively.
func (h *Handler) receiveLoop(ctx context.Context, conn *websocket.Conn, id ClientID, room string) {
	defaultPing := conn.PingHandler()
	conn.SetPingHandler(func(data string) error {
		logging.Debug(ctx, "received ping frame", zap.Uint64("client", uint64(id)))
		metrics.WireFrames.WithLabelValues("ping", "received").Inc()
		return defaultPing(data)
	})

	conn.SetPongHandler(func(data string) error {
		logging.Debug(ctx, "received pong frame", zap.Uint64("client", uint64(id)))
		metrics.WireFrames.WithLabelValues("pong", "received").Inc()
		return nil
	})

	defaultClose := conn.CloseHandler()
	conn.SetCloseHandler(func(code int, text string) error {
		logging.Info(ctx, "received close frame", zap.Uint64("client", uint64(id)), zap.Int("code", code), zap.String("reason", text))
		metrics.WireFrames.WithLabelValues("close", "received").Inc()
		return defaultClose(code, text)
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		switch messageType {
		case websocket.TextMessage:
			logging.Debug(ctx, "received text frame", zap.Uint64("client", uint64(id)), zap.String("room", room))
			metrics.WireFrames.WithLabelValues("text", "received").Inc()
			h.deliverToWebhook(ctx, room, id, string(data))
		case websocket.BinaryMessage:
			logging.Debug(ctx, "received binary frame", zap.Uint64("client", uint64(id)), zap.Int("size", len(data)))
			metrics.WireFrames.WithLabelValues("binary", "received").Inc()
		}
	}
}

// webhookPayload is the JSON body posted for each inbound text frame.
type webhookPayload struct {
	Message string `json:"message"`
	Room    string `json:"room"`
	Sender  string `json:"sender"`
}

// deliverToWebhook POSTs an inbound text frame to the configured webhook.
// Inbound client text is never itself broadcast: the webhook is the only
// egress for client-originated content.
func (h *Handler) deliverToWebhook(ctx context.Context, room string, id ClientID, message string) {
	if h.webhookURL == "" {
		return
	}

	body, err := json.Marshal(webhookPayload{
		Message: message,
		Room:    room,
		Sender:  fmt.Sprintf("%d", id),
	})
	if err != nil {
		logging.Error(ctx, "failed to marshal webhook payload", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.webhookURL, bytes.NewReader(body))
	if err != nil {
		logging.Error(ctx, "failed to build webhook request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		logging.Warn(ctx, "webhook delivery failed", zap.String("room", room), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		logging.Warn(ctx, "webhook rejected delivery", zap.String("room", room), zap.Int("status", resp.StatusCode))
		return
	}
	metrics.WebhookDeliveries.WithLabelValues("success").Inc()
}
