package websocket

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"
)

const ServiceName = "win-autotype"

// Message types exchanged over the bridge.
const (
	TypePing             = "ping"
	TypePong             = "pong"
	TypeStatus           = "status"
	TypeKeepAlive        = "keepalive"
	TypeSendText         = "send_text"
	TypeSendLogin        = "send_login"
	TypeReleaseModifiers = "release_modifiers"
	TypeActiveWindow     = "active_window"
	TypeNextWindow       = "next_window"
	TypeShortcut         = "autotype_shortcut"
	TypeError            = "error"
)

// Request is a client message. Text, Username and Password are only read by
// the matching request types.
type Request struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	Text     string `json:"text,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Event is every server message: replies to requests and broadcasts.
type Event struct {
	Service   string    `json:"service"`
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	Status    string    `json:"status,omitempty"`
	PID       int       `json:"pid,omitempty"`
	OK        bool      `json:"ok"`
	URL       string    `json:"url,omitempty"`
	Error     string    `json:"error,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	maxConnections    = 8
	maxMessageSize    = 8 * 1024
	readTimeout       = 120 * time.Second
	writeTimeout      = 30 * time.Second
	keepAliveInterval = 45 * time.Second
)

var (
	activeConnections int32

	errNoAutotyper      = errors.New("autotype is not available")
	errUnknownRequest   = errors.New("unknown request type")
	errMalformedRequest = errors.New("malformed request")
)

func HandleConnection(ws *websocket.Conn, state *BridgeState) {
	if atomic.LoadInt32(&activeConnections) >= maxConnections {
		state.Logger.Warn("Connection rejected - too many active connections",
			slog.Int("active", int(atomic.LoadInt32(&activeConnections))),
			slog.Int("max", maxConnections))
		ws.Close()
		return
	}

	atomic.AddInt32(&activeConnections, 1)
	defer atomic.AddInt32(&activeConnections, -1)

	ws.MaxPayloadBytes = maxMessageSize

	state.Mutex.Lock()
	state.Clients[ws] = true
	clientCount := len(state.Clients)
	currentState := state.State
	state.Mutex.Unlock()

	state.Logger.Info("Bridge client connected",
		slog.String("remote_addr", ws.Request().RemoteAddr),
		slog.Int("total_clients", clientCount))

	_ = sendEvent(ws, &Event{
		Service: ServiceName,
		Type:    TypeStatus,
		Status:  currentState,
		PID:     state.PID,
		OK:      true,
		Message: "Connected to autotype bridge",
	})

	defer func() {
		state.Mutex.Lock()
		delete(state.Clients, ws)
		remainingClients := len(state.Clients)
		state.Mutex.Unlock()

		ws.Close()
		state.Logger.Info("Bridge client disconnected",
			slog.String("remote_addr", ws.Request().RemoteAddr),
			slog.Int("remaining_clients", remainingClients))
	}()

	done := make(chan struct{})
	defer close(done)
	go keepAliveHandler(ws, state, done)

	for {
		if err := ws.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			state.Logger.Debug("Failed to set read deadline", slog.String("error", err.Error()))
			return
		}

		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			if err != io.EOF {
				if isTimeoutError(err) {
					state.Logger.Debug("Bridge read timeout (client may be idle)",
						slog.String("remote_addr", ws.Request().RemoteAddr))
				} else {
					state.Logger.Debug("Bridge read error",
						slog.String("error", err.Error()),
						slog.String("remote_addr", ws.Request().RemoteAddr))
				}
			}
			return
		}

		reply := handleMessage(msg, state)
		if reply == nil {
			continue
		}
		if err := sendEvent(ws, reply); err != nil {
			state.Logger.Debug("Failed to send reply",
				slog.String("error", err.Error()),
				slog.String("remote_addr", ws.Request().RemoteAddr))
			return
		}
	}
}

func keepAliveHandler(ws *websocket.Conn, state *BridgeState, done <-chan struct{}) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := sendEvent(ws, &Event{
				Service: ServiceName,
				Type:    TypeKeepAlive,
				Status:  "alive",
				PID:     state.PID,
				OK:      true,
			}); err != nil {
				state.Logger.Debug("Failed to send keep-alive",
					slog.String("error", err.Error()),
					slog.String("remote_addr", ws.Request().RemoteAddr))
				return
			}
		}
	}
}

// handleMessage runs one request and returns the reply, or nil when the
// message needs none.
func handleMessage(msg string, state *BridgeState) *Event {
	var req Request
	if err := json.Unmarshal([]byte(msg), &req); err != nil {
		return errorReply(Request{Type: TypeError}, errMalformedRequest)
	}

	switch req.Type {
	case TypePing:
		state.Mutex.RLock()
		status := state.State
		state.Mutex.RUnlock()
		return &Event{Service: ServiceName, Type: TypePong, ID: req.ID, Status: status, PID: state.PID, OK: true}
	case TypePong:
		return nil
	}

	if state.Autotyper == nil {
		return errorReply(req, errNoAutotyper)
	}

	var (
		url string
		err error
	)
	switch req.Type {
	case TypeSendText:
		err = state.Autotyper.SendText(req.Text)
	case TypeSendLogin:
		err = state.Autotyper.SendLogin(req.Username, req.Password)
	case TypeReleaseModifiers:
		err = state.Autotyper.ReleaseModifiers()
	case TypeActiveWindow:
		url, err = state.Autotyper.ActiveWindowURL()
	case TypeNextWindow:
		url, err = state.Autotyper.NextWindowURL()
	default:
		return errorReply(req, errUnknownRequest)
	}

	state.Mutex.Lock()
	state.Requests++
	if err != nil {
		state.Failures++
	} else {
		state.LastActivity = time.Now()
	}
	state.Mutex.Unlock()

	state.Logger.Debug("Bridge request handled",
		slog.String("type", req.Type),
		slog.String("id", req.ID),
		slog.Bool("ok", err == nil))

	if err != nil {
		return errorReply(req, err)
	}
	return &Event{Service: ServiceName, Type: req.Type, ID: req.ID, OK: true, URL: url}
}

func errorReply(req Request, err error) *Event {
	return &Event{Service: ServiceName, Type: req.Type, ID: req.ID, OK: false, Error: err.Error()}
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "timeout")
}

// GetConnectionStats returns current connection statistics.
func GetConnectionStats() map[string]any {
	return map[string]any{
		"active_connections":         atomic.LoadInt32(&activeConnections),
		"max_connections":            maxConnections,
		"max_message_size":           maxMessageSize,
		"keepalive_interval_seconds": int(keepAliveInterval.Seconds()),
		"read_timeout_seconds":       int(readTimeout.Seconds()),
		"write_timeout_seconds":      int(writeTimeout.Seconds()),
	}
}
