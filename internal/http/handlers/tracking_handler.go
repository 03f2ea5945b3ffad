// README: Websocket stream of tracking fixes for one device; the session ends when the client disconnects.
package handlers

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"afyaride/internal/modules/location"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxInboundSize = 512
	sendBuffer     = 16
)

type TrackMessageType string

const (
	MsgFix   TrackMessageType = "fix"
	MsgError TrackMessageType = "error"
)

// TrackEnvelope is every frame sent on the tracking stream.
type TrackEnvelope struct {
	Type      TrackMessageType `json:"type"`
	Payload   any              `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
}

type FixPayload struct {
	Location location.Coordinate `json:"location"`
	Accurate bool                `json:"accurate"`
}

type ErrorPayload struct {
	Reason string `json:"reason"`
	Error  string `json:"error"`
	Retry  bool   `json:"retry"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Track upgrades to a websocket and streams the device's fixes until the client
// goes away. Provider errors are sent as error frames; the stream stays open.
func (h *LocationHandler) Track(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid device id")
		return
	}
	if h.devices == nil {
		writeLocationError(c, &location.LocationError{Reason: location.ReasonUnavailable})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("device_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	svc := h.deviceService(id)
	send := make(chan TrackEnvelope, sendBuffer)
	done := make(chan struct{})
	var closeOnce sync.Once
	finish := func() { closeOnce.Do(func() { close(done) }) }

	enqueue := func(msg TrackEnvelope) {
		select {
		case <-done:
		case send <- msg:
		default:
			h.log.Warn("tracking client too slow, dropping frame", zap.String("device_id", id))
		}
	}

	sess, err := svc.StartTracking(
		func(fix location.Coordinate) {
			enqueue(TrackEnvelope{
				Type:      MsgFix,
				Payload:   FixPayload{Location: fix, Accurate: svc.IsAccurate(fix)},
				Timestamp: time.Now().UTC(),
			})
		},
		func(err error) {
			enqueue(TrackEnvelope{Type: MsgError, Payload: errorPayload(err), Timestamp: time.Now().UTC()})
		},
	)
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(TrackEnvelope{Type: MsgError, Payload: errorPayload(err), Timestamp: time.Now().UTC()})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "tracking unavailable"))
		return
	}
	defer svc.StopTracking(sess)

	h.log.Info("tracking stream opened", zap.String("device_id", id), zap.String("session_id", sess.ID()))
	go readPump(conn, finish)
	writePump(conn, send, done)
	finish()
	h.log.Info("tracking stream closed", zap.String("device_id", id), zap.String("session_id", sess.ID()))
}

func errorPayload(err error) ErrorPayload {
	reason := location.ReasonUnavailable
	var perr *location.TrackingProviderError
	var lerr *location.LocationError
	switch {
	case errors.As(err, &perr):
		reason = perr.Reason
	case errors.As(err, &lerr):
		reason = lerr.Reason
	}
	return ErrorPayload{
		Reason: string(reason),
		Error:  err.Error(),
		Retry:  reason == location.ReasonDenied || reason == location.ReasonTimeout,
	}
}

// readPump drains client frames so control messages are processed, and calls
// finish once the client closes or stops answering pings.
func readPump(conn *websocket.Conn, finish func()) {
	defer finish()
	conn.SetReadLimit(maxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writePump(conn *websocket.Conn, send <-chan TrackEnvelope, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
