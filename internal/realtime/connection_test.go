package realtime

import (
	"testing"
	"time"

	"github.com/mkhodary/chat-gateway/internal/models"
)

func TestConnection_Enqueue(t *testing.T) {
	conn := newTestConn("conn-1", "user-1")

	if err := conn.Enqueue([]byte("hello"), time.Second); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	select {
	case payload := <-conn.Send:
		if string(payload) != "hello" {
			t.Errorf("Expected hello, got %s", payload)
		}
	default:
		t.Fatal("Expected a queued payload")
	}
}

func TestConnection_EnqueueAfterClose(t *testing.T) {
	conn := newTestConn("conn-1", "user-1")
	conn.Close()

	err := conn.Enqueue([]byte("hello"), time.Second)
	if err != models.ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_EnqueueTimeout(t *testing.T) {
	conn := newTestConn("conn-1", "user-1")

	for i := 0; i < cap(conn.Send); i++ {
		conn.Send <- []byte("filler")
	}

	err := conn.Enqueue([]byte("overflow"), 10*time.Millisecond)
	if err != models.ErrSendTimeout {
		t.Errorf("Expected ErrSendTimeout, got %v", err)
	}
}

func TestConnection_CloseIdempotent(t *testing.T) {
	conn := newTestConn("conn-1", "user-1")

	if conn.Closed() {
		t.Fatal("New connection should not be closed")
	}

	conn.Close()
	conn.Close()

	if !conn.Closed() {
		t.Error("Expected connection to be closed")
	}
	select {
	case <-conn.Done():
	default:
		t.Error("Expected Done to be closed")
	}
}
