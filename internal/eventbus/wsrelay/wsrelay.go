// Package wsrelay forwards an eventbus.Bus's events as JSON frames to
// any number of connected websocket clients, grounded directly on the
// teacher's own websocket server: a loopback-origin-checked Upgrader and a
// per-connection write mutex so concurrent SendJSON calls never
// interleave frames on one connection.
package wsrelay

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/fsearch/engine/internal/eventbus"
)

// Relay upgrades incoming HTTP requests to websocket connections and
// fans out every eventbus.Event it receives to all of them as JSON.
type Relay struct {
	bus      *eventbus.Bus
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]*sync.Mutex
}

// New returns a Relay reading from bus. It does not start consuming
// events until Run is called; clients connect through ServeHTTP.
func New(bus *eventbus.Bus) *Relay {
	return &Relay{
		bus:      bus,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		conns:    make(map[*websocket.Conn]*sync.Mutex),
	}
}

// checkOrigin accepts an http(s) Origin whose host is loopback, a
// missing Origin when the remote address is loopback, and an explicit
// "null" origin (embedders without a proper page origin), rejecting
// everything else. It does not compare the Origin with the request's
// Host.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "null" {
		return true
	}
	if origin == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return false
		}
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	h := u.Hostname()
	if h == "localhost" || h == "127.0.0.1" || h == "::1" {
		return true
	}
	if ip := net.ParseIP(h); ip != nil && ip.IsLoopback() {
		return true
	}
	return false
}

// ServeHTTP upgrades the request and registers the resulting
// connection to receive relayed events until it disconnects.
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("wsrelay: upgrade failed: %v", err)
		return
	}
	rl.addConn(conn)
	defer rl.removeConn(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (rl *Relay) addConn(c *websocket.Conn) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.conns[c] = &sync.Mutex{}
}

func (rl *Relay) removeConn(c *websocket.Conn) {
	rl.mu.Lock()
	mu, ok := rl.conns[c]
	delete(rl.conns, c)
	rl.mu.Unlock()
	if ok {
		mu.Lock()
		c.Close()
		mu.Unlock()
	}
}

// Run drains the relay's subscription to bus and forwards every event
// to every connected client until ctx-style cancellation is signalled
// by closing stop.
func (rl *Relay) Run(stop <-chan struct{}) {
	ch := rl.bus.Subscribe()
	defer rl.bus.Unsubscribe(ch)
	for {
		select {
		case <-stop:
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			rl.broadcast(v)
		}
	}
}

func (rl *Relay) broadcast(v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		log.Printf("wsrelay: marshal event: %v", err)
		return
	}

	rl.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(rl.conns))
	for c := range rl.conns {
		targets = append(targets, c)
	}
	rl.mu.Unlock()

	for _, c := range targets {
		rl.sendJSON(c, buf)
	}
}

// sendJSON serializes writes per connection, the same convention the
// teacher's package-level SendJSON helper enforces via a global map of
// per-connection mutexes.
func (rl *Relay) sendJSON(c *websocket.Conn, buf []byte) {
	rl.mu.Lock()
	mu, ok := rl.conns[c]
	rl.mu.Unlock()
	if !ok {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	if err := c.WriteMessage(websocket.TextMessage, buf); err != nil {
		log.Printf("wsrelay: write failed: %v", err)
	}
}
