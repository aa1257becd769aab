// Package websocket implements the localhost bridge the credential manager
// uses to request autotype and to receive shortcut events.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/websocket"
)

const (
	serverReadTimeout  = 60 * time.Second
	serverWriteTimeout = 60 * time.Second
	serverIdleTimeout  = 300 * time.Second

	serverStartTimeout = 100 * time.Millisecond
)

// Autotyper performs the autotype operations requested by bridge clients.
type Autotyper interface {
	SendText(text string) error
	SendLogin(username, password string) error
	ReleaseModifiers() error
	ActiveWindowURL() (string, error)
	NextWindowURL() (string, error)
}

// BridgeState holds the bridge status and its connected clients. Mutex
// guards every field except Logger and Autotyper.
type BridgeState struct {
	State        string                   // "running", "stopped"
	PID          int                      // Process ID of the service
	Clients      map[*websocket.Conn]bool // Active WebSocket client connections
	Mutex        sync.RWMutex
	Logger       *slog.Logger
	Autotyper    Autotyper
	LastActivity time.Time // Last completed autotype request
	Requests     int
	Failures     int
}

var (
	listener      net.Listener
	serverMux     sync.Mutex
	serverRunning int32
	serverCancel  context.CancelFunc
	serverDone    chan struct{}
)

// StartServer listens on 127.0.0.1:port and serves the bridge in the
// background until StopServer is called.
func StartServer(port int, state *BridgeState) error {
	serverMux.Lock()
	defer serverMux.Unlock()

	if atomic.LoadInt32(&serverRunning) == 1 {
		return fmt.Errorf("websocket server is already running")
	}

	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("failed to bind to port %d: %w", port, err)
	}
	listener = l

	ctx, cancel := context.WithCancel(context.Background())
	serverCancel = cancel
	serverDone = make(chan struct{})
	serverReady := make(chan struct{})

	// Mark running before the goroutine starts so a second StartServer in
	// quick succession is rejected.
	atomic.StoreInt32(&serverRunning, 1)

	go func(done chan struct{}) {
		defer close(done)
		defer atomic.StoreInt32(&serverRunning, 0)

		state.Logger.Info("Autotype bridge starting",
			slog.String("address", fmt.Sprintf("ws://127.0.0.1:%d", port)))

		server := &http.Server{
			Handler:      NewHandler(state),
			ReadTimeout:  serverReadTimeout,
			WriteTimeout: serverWriteTimeout,
			IdleTimeout:  serverIdleTimeout,
		}
		close(serverReady)

		go func() {
			<-ctx.Done()
			_ = server.Close()
		}()

		if err := server.Serve(l); err != nil && err != http.ErrServerClosed {
			if ctx.Err() == nil {
				state.Logger.Error("Autotype bridge error", slog.String("error", err.Error()))
			}
		}
	}(serverDone)

	select {
	case <-serverReady:
	case <-time.After(serverStartTimeout):
	}
	return nil
}

// NewHandler returns the bridge handler with connection validation. It is
// exported so tests and embedders can mount it on their own server.
func NewHandler(state *BridgeState) websocket.Handler {
	return websocket.Handler(func(ws *websocket.Conn) {
		if err := validateConnection(ws); err != nil {
			state.Logger.Warn("Connection validation failed",
				slog.String("reason", err.Error()),
				slog.String("remote_addr", ws.Request().RemoteAddr))
			ws.Close()
			return
		}
		HandleConnection(ws, state)
	})
}

// validateConnection accepts only loopback peers with a localhost origin.
func validateConnection(ws *websocket.Conn) error {
	if ws.Request() != nil {
		origin := ws.Request().Header.Get("Origin")
		if origin != "" && !isValidOrigin(origin) {
			return fmt.Errorf("invalid origin: %s", origin)
		}

		remoteAddr := ws.Request().RemoteAddr
		if !isLocalhost(remoteAddr) {
			return fmt.Errorf("non-localhost connection: %s", remoteAddr)
		}
	}
	return nil
}

func isLocalhost(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return host == "localhost"
	}
	return ip.IsLoopback()
}

// isValidOrigin rejects cross-site origins so a web page cannot drive
// autotype through the user's browser.
func isValidOrigin(origin string) bool {
	for _, scheme := range []string{"ws", "wss", "http", "https"} {
		if strings.HasPrefix(origin, scheme+"://localhost:") ||
			strings.HasPrefix(origin, scheme+"://127.0.0.1:") {
			return true
		}
	}
	return false
}

// StopServer stops the bridge and waits for the serve goroutine. Safe to call
// when the server is not running.
func StopServer() {
	serverMux.Lock()
	defer serverMux.Unlock()

	if serverCancel != nil {
		serverCancel()
		serverCancel = nil
	}
	if listener != nil {
		listener.Close()
		listener = nil
	}
	if serverDone != nil {
		<-serverDone
		serverDone = nil
	}
}

// IsRunning reports whether the bridge is serving.
func IsRunning() bool {
	return atomic.LoadInt32(&serverRunning) == 1
}
