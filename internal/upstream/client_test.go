package upstream_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/HanshengGUO/okx-websocket-repeater/internal/upstream"
)

func TestClientSendsSubscriptionAndDeliversFrames(t *testing.T) {
	var gotSub string
	subReceived := make(chan struct{})

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		gotSub = string(msg)
		close(subReceived)

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"arg":{},"data":[{"seqId":1}]}`))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws://" + strings.TrimPrefix(srv.URL, "http://")

	var mu sync.Mutex
	var frames [][]byte
	onMsg := func(f []byte) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, append([]byte(nil), f...))
	}

	c := upstream.New(upstream.Endpoint{URL: wsURL, SubMsg: `{"op":"subscribe"}`, ID: 1}, onMsg, zerolog.Nop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case <-subReceived:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription message")
	}

	if gotSub != `{"op":"subscribe"}` {
		t.Errorf("server received sub = %q, want %q", gotSub, `{"op":"subscribe"}`)
	}

	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	n := len(frames)
	mu.Unlock()
	if n != 1 {
		t.Fatalf("onMsg called %d times, want 1", n)
	}

	cancel()
	<-done
}

func TestClientStopsOnBadSchemeWithoutPanicking(t *testing.T) {
	c := upstream.New(upstream.Endpoint{URL: "tcp://bad", SubMsg: "{}", ID: 2}, func([]byte) {}, zerolog.Nop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
