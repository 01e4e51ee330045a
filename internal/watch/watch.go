// Package watch exposes a resolution run's live progress over a local
// WebSocket feed for --watch mode, and uses fsnotify to notice when
// another just-mr process touches the local build root concurrently (a
// second resolution racing the one this process is running). The
// WebSocket broadcast loop is adapted from the teacher's RepoSession
// client registry; the filesystem watch loop is adapted from its
// fsnotify-based Git-ref watcher, here pointed at the cache root's lock
// files instead of a working tree's refs directory.
package watch

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"

	"github.com/justbuild-go/just-mr/internal/orchestrator"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(_ *http.Request) bool { return true }, // local-only server
	EnableCompression: true,
}

// Message is one JSON event pushed to connected clients.
type Message struct {
	Repo  string `json:"repo"`
	Phase string `json:"phase"`
	Error string `json:"error,omitempty"`
}

// Hub fans out Orchestrator progress events to every connected WebSocket
// client, following the teacher's register/broadcast/remove client
// lifecycle.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan Message
}

// NewHub returns an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, clients: map[*websocket.Conn]chan Message{}}
}

// Pump forwards every Progress event from o to all connected clients until
// ctx is done.
func (h *Hub) Pump(ctx context.Context, o *orchestrator.Orchestrator) {
	ch := o.Subscribe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-ch:
			if !ok {
				return
			}
			msg := Message{Repo: p.Repo, Phase: p.Phase}
			if p.Err != nil {
				msg.Error = p.Err.Error()
			}
			h.broadcast(msg)
		}
	}
}

func (h *Hub) broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- msg:
		default:
			h.logger.Warn("dropping slow watch client", "addr", conn.RemoteAddr())
		}
	}
}

// ServeHTTP upgrades the connection and registers it for broadcasts until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("watch: upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ch := make(chan Message, 64)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, ch, done)

	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}

func (h *Hub) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, ch chan Message, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case msg := <-ch:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

// WatchCacheRoot notifies onChange whenever a lock file under cacheRoot is
// created or removed, signaling that another just-mr process is actively
// resolving against the same local build root.
func WatchCacheRoot(ctx context.Context, cacheRoot string, logger *slog.Logger, onChange func(name string)) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(cacheRoot); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Remove) == 0 {
					continue
				}
				if filepath.Ext(ev.Name) != ".lock" {
					continue
				}
				onChange(ev.Name)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("watch: cache root watcher error", "err", err)
			}
		}
	}()
	return nil
}
