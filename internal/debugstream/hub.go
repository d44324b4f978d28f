// Package debugstream publishes per-frame selection statistics to local websocket subscribers.
package debugstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-globe/internal/engine/quadtree"
	"github.com/Faultbox/midgard-globe/internal/logger"
)

// ErrNotLoopback is returned when asked to listen on a non-loopback address.
var ErrNotLoopback = errors.New("debug stream must listen on a loopback address")

// subscriberBuffer is the number of frames a slow subscriber may fall behind before frames are dropped.
const subscriberBuffer = 16

// Frame is one message on the stream.
type Frame struct {
	Type  string         `json:"type"`
	Stats quadtree.Stats `json:"stats"`
}

// Hub fans frame statistics out to websocket subscribers. PublishStats never blocks.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu     sync.Mutex
	subs   map[uint64]chan []byte
	latest *quadtree.Stats

	nextID  atomic.Uint64
	dropped atomic.Uint64
}

var _ quadtree.StatsSink = (*Hub)(nil)

// NewHub creates a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			// Only loopback clients are accepted, so any origin is a local tool.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:  logger.Named("debugstream"),
		subs: make(map[uint64]chan []byte),
	}
}

// PublishStats implements quadtree.StatsSink.
func (h *Hub) PublishStats(s quadtree.Stats) {
	b, err := json.Marshal(Frame{Type: "STATS", Stats: s})
	if err != nil {
		h.log.Error("encode stats", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = &s
	for _, ch := range h.subs {
		select {
		case ch <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

// Latest returns the most recent statistics.
func (h *Hub) Latest() (quadtree.Stats, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return quadtree.Stats{}, false
	}
	return *h.latest, true
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many frames were skipped for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) subscribe() (uint64, chan []byte) {
	id := h.nextID.Add(1)
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()
	return id, ch
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// Handler serves GET /stats with the latest frame and /ws with the live stream.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stats", h.statsHandler)
	mux.HandleFunc("/ws", h.wsHandler)
	return mux
}

func (h *Hub) statsHandler(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	s, ok := h.Latest()
	if !ok {
		http.Error(rw, "no frames yet", http.StatusServiceUnavailable)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(Frame{Type: "STATS", Stats: s})
}

func (h *Hub) wsHandler(rw http.ResponseWriter, r *http.Request) {
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	conn, err := h.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, out := h.subscribe()
	defer h.unsubscribe(id)
	h.log.Debug("subscriber joined", zap.Uint64("id", id), zap.String("remote", r.RemoteAddr))

	// The reader only watches for the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			h.log.Debug("subscriber left", zap.Uint64("id", id))
			return
		case b := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

// ListenAndServe serves the hub on a loopback address until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, h *Hub) error {
	ln, err := Listen(addr)
	if err != nil {
		return err
	}
	return Serve(ctx, ln, h)
}

// Listen opens a loopback listener.
func Listen(addr string) (net.Listener, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("debug stream address %q: %w", addr, err)
	}
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return nil, fmt.Errorf("%w: %q", ErrNotLoopback, addr)
		}
	}
	return net.Listen("tcp", addr)
}

// Serve serves the hub on ln until ctx is cancelled.
func Serve(ctx context.Context, ln net.Listener, h *Hub) error {
	srv := &http.Server{Handler: h.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	h.log.Info("debug stream listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
