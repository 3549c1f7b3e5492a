package api

import (
	"net/http"
	"time"

	"github.com/annel0/rewind/internal/rewind"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 5 * time.Second
	streamPongWait   = 30 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const streamNotificationBuffer = 256

// StreamMessage кадр потока: снимок состояния или уведомление отладчика
type StreamMessage struct {
	Type    string        `json:"type"` // state, track_cursor, components_changed
	State   *rewind.Stats `json:"state,omitempty"`
	Reverse *bool         `json:"reverse,omitempty"`
}

func notificationMessage(n rewind.Notification) StreamMessage {
	msg := StreamMessage{Type: n.Type}
	if n.Type == rewind.NotificationTrackCursor {
		reverse := n.Reverse
		msg.Reverse = &reverse
	}
	return msg
}

// changed отличается ли снимок от отправленного без учёта счётчика тиков
func changed(prev, next rewind.Stats) bool {
	prev.Ticks, next.Ticks = 0, 0
	prev.UpdatedAt, next.UpdatedAt = time.Time{}, time.Time{}
	return prev != next
}

// handleStream отдаёт по WebSocket состояние отладчика при каждом изменении
// и его уведомления (позиция воспроизведения, дерево компонентов)
func (rs *RestServer) handleStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		rs.log.Warn("Не удалось открыть WebSocket: %v", err)
		return
	}
	defer ws.Close()
	rs.log.Debug("🔌 Поток состояния подключён: %s", c.ClientIP())

	// Входящие кадры не ожидаются, чтение нужно для pong и закрытия
	closed := make(chan struct{})
	ws.SetReadLimit(512)
	ws.SetReadDeadline(time.Now().Add(streamPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(rs.streamInterval)
	defer ticker.Stop()
	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	notes, unsubscribe := rs.runner.Subscribe(streamNotificationBuffer)
	defer unsubscribe()

	write := func(msg StreamMessage) bool {
		ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return ws.WriteJSON(msg) == nil
	}
	send := func(s rewind.Stats) bool {
		return write(StreamMessage{Type: "state", State: &s})
	}

	last := rs.runner.Stats()
	if !send(last) {
		return
	}

	for {
		select {
		case <-closed:
			rs.log.Debug("🔌 Поток состояния закрыт: %s", c.ClientIP())
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case n, ok := <-notes:
			if !ok {
				return
			}
			if !write(notificationMessage(n)) {
				return
			}
		case <-ticker.C:
			next := rs.runner.Stats()
			if !changed(last, next) {
				continue
			}
			if !send(next) {
				return
			}
			last = next
		}
	}
}
