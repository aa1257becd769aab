package websocket

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

const bufferSize = 1024

var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, bufferSize))
	},
}

// stamp fills the fields every outgoing event carries.
func stamp(e *Event) {
	if e.Service == "" {
		e.Service = ServiceName
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
}

// encodeEvent renders e as a text frame payload.
func encodeEvent(e *Event) (string, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(e); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeFrame(conn *websocket.Conn, msg string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return websocket.Message.Send(conn, msg)
}

// sendEvent answers a single client.
func sendEvent(conn *websocket.Conn, e *Event) error {
	stamp(e)
	msg, err := encodeEvent(e)
	if err != nil {
		return err
	}
	return writeFrame(conn, msg)
}

// Broadcast delivers e to every bridge client. Clients that cannot take the
// frame within the write timeout are closed and forgotten. The result is the
// number of clients still connected.
func Broadcast(e *Event, state *BridgeState) int {
	e.Timestamp = time.Time{}
	stamp(e)

	msg, err := encodeEvent(e)
	if err != nil {
		state.Logger.Error("Failed to encode bridge event",
			slog.String("error", err.Error()),
			slog.String("event_type", e.Type))
		return 0
	}

	state.Mutex.Lock()
	defer state.Mutex.Unlock()

	dropped := 0
	for conn := range state.Clients {
		if err := writeFrame(conn, msg); err != nil {
			state.Logger.Debug("Dropping bridge client after failed send",
				slog.String("event_type", e.Type),
				slog.String("error", err.Error()))
			conn.Close()
			delete(state.Clients, conn)
			dropped++
		}
	}

	if dropped > 0 {
		state.Logger.Debug("Bridge clients dropped during broadcast",
			slog.Int("dropped", dropped),
			slog.Int("remaining", len(state.Clients)))
	}
	return len(state.Clients)
}
