package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"ledvm/pkg/store"
	"ledvm/pkg/vm"
)

func TestEncodeFrame(t *testing.T) {
	got := EncodeFrame([]vm.Color{{R: 1, G: 2, B: 3}, {R: 255}})
	if diff := cmp.Diff([]byte{1, 2, 3, 255, 0, 0}, got); diff != "" {
		t.Errorf("EncodeFrame mismatch (-want +got):\n%s", diff)
	}
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	h := NewHub()
	ch := h.subscribe()
	for i := 0; i < frameBuffer+3; i++ {
		h.Publish([]vm.Color{{R: uint8(i)}})
	}
	if len(ch) != frameBuffer {
		t.Errorf("buffered %d frames; want %d", len(ch), frameBuffer)
	}
	h.unsubscribe(ch)
	if h.Subscribers() != 0 {
		t.Errorf("Subscribers() = %d after unsubscribe", h.Subscribers())
	}
}

func TestFramesWebsocket(t *testing.T) {
	s := store.New(0)
	hub := NewHub()
	ts := httptest.NewServer(New(s, &fakeRunner{store: s}, WithFrames(hub)).Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/frames"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.Publish([]vm.Color{{R: 9, G: 8, B: 7}})

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if kind != websocket.BinaryMessage {
		t.Errorf("message type = %d; want binary", kind)
	}
	if diff := cmp.Diff([]byte{9, 8, 7}, data); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestFramesRouteNeedsHub(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, _ := do(t, "GET", ts.URL+"/frames", "", "")
	if resp.StatusCode != 404 {
		t.Errorf("GET /frames without hub = %d; want 404", resp.StatusCode)
	}
}

func TestFrameString(t *testing.T) {
	got := FrameString([]vm.Color{{R: 0xFF}, {G: 0x10, B: 0x01}})
	if got != "ff0000 001001" {
		t.Errorf("FrameString() = %q", got)
	}
}
