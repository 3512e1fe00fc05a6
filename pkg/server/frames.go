package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ledvm/pkg/vm"
)

const (
	frameBuffer  = 4
	writeTimeout = 5 * time.Second
)

// Hub fans latched frames out to websocket subscribers. Slow subscribers
// miss frames rather than stall the runner.
type Hub struct {
	mu   sync.Mutex
	subs map[chan []vm.Color]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan []vm.Color]struct{})}
}

// Publish offers frame to every subscriber. It has the signature of
// pixels.Strip.OnShow callbacks.
func (h *Hub) Publish(frame []vm.Color) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe() chan []vm.Color {
	ch := make(chan []vm.Color, frameBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan []vm.Color) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// EncodeFrame packs a frame as consecutive R, G, B bytes.
func EncodeFrame(frame []vm.Color) []byte {
	out := make([]byte, 0, len(frame)*3)
	for _, c := range frame {
		out = append(out, c.R, c.G, c.B)
	}
	return out
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleFrames streams every shown frame as a binary websocket message.
func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warningf("frames upgrade: %v", err)
		return
	}
	defer conn.Close()

	ch := s.frames.subscribe()
	defer s.frames.unsubscribe(ch)

	// The client never sends anything; reading only detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, EncodeFrame(frame)); err != nil {
				log.Debugf("frames: %v", err)
				return
			}
		case <-closed:
			return
		}
	}
}

// FrameString renders a frame as hex triplets for logs.
func FrameString(frame []vm.Color) string {
	var b strings.Builder
	for i, c := range frame {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x%02x%02x", c.R, c.G, c.B)
	}
	return b.String()
}
