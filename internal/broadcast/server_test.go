package broadcast_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"

	"github.com/HanshengGUO/okx-websocket-repeater/internal/broadcast"
)

func dialAndUpgrade(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, _, _, err := ws.Dial(context.Background(), "ws://"+addr+"/")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestBroadcastDeliversToConnectedSession(t *testing.T) {
	srv := broadcast.New("127.0.0.1:0", 8, zerolog.Nop(), nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Shutdown()

	addr := srv.Addr()
	conn := dialAndUpgrade(t, addr)
	defer conn.Close()

	waitForSessionCount(t, srv, 1)

	srv.Broadcast([]byte(`{"arg":{},"data":[{"seqId":1}]}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, _, err := wsutil.ReadServerData(conn)
	if err != nil {
		t.Fatalf("ReadServerData: %v", err)
	}
	if string(msg) != `{"arg":{},"data":[{"seqId":1}]}` {
		t.Errorf("got %q", msg)
	}
}

func TestSlowSessionIsDisconnectedNotBuffered(t *testing.T) {
	srv := broadcast.New("127.0.0.1:0", 2, zerolog.Nop(), nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Shutdown()

	conn := dialAndUpgrade(t, srv.Addr())
	defer conn.Close()

	waitForSessionCount(t, srv, 1)

	for i := 0; i < 20; i++ {
		srv.Broadcast([]byte(`{"arg":{},"data":[{"seqId":1}]}`))
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.SessionCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("slow session was never disconnected")
}

func waitForSessionCount(t *testing.T, srv *broadcast.Server, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if srv.SessionCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("SessionCount never reached %d", want)
}
