package websocket

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/net/websocket"
)

// Probe connects to the bridge on 127.0.0.1:port, pings it and returns the
// pong. It reports whether a running service is actually serving requests.
func Probe(port int, timeout time.Duration) (*Event, error) {
	cfg, err := websocket.NewConfig(
		fmt.Sprintf("ws://127.0.0.1:%d/", port),
		fmt.Sprintf("http://localhost:%d", port))
	if err != nil {
		return nil, err
	}
	cfg.Dialer = &net.Dialer{Timeout: timeout}

	conn, err := websocket.DialConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("bridge not reachable on port %d: %w", port, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	// Skip the greeting and any broadcast that races with the ping.
	if err := websocket.JSON.Send(conn, Request{Type: TypePing, ID: "probe"}); err != nil {
		return nil, fmt.Errorf("failed to ping bridge: %w", err)
	}
	for {
		var ev Event
		if err := websocket.JSON.Receive(conn, &ev); err != nil {
			return nil, fmt.Errorf("no reply from bridge: %w", err)
		}
		if ev.Type == TypePong {
			return &ev, nil
		}
	}
}
