package chat

import (
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

func TestConnManager_Register(t *testing.T) {
	cm := NewConnManager()

	cm.Register("user123", "thread-1", &websocket.Conn{})
	cm.Register("user123", "thread-2", &websocket.Conn{})

	if n := cm.Count("user123"); n != 2 {
		t.Errorf("Expected 2 connections, got %d", n)
	}
}

func TestConnManager_Unregister(t *testing.T) {
	cm := NewConnManager()
	conn := &websocket.Conn{}

	cm.Register("user123", "thread-1", conn)
	cm.Unregister("user123", "thread-1", conn)

	if n := cm.Count("user123"); n != 0 {
		t.Errorf("Expected no connections, got %d", n)
	}
}

func TestConnManager_UnregisterStaleConnectionKeepsCurrent(t *testing.T) {
	cm := NewConnManager()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	cm.Register("user123", "thread-1", conn1)
	cm.Register("user123", "thread-2", conn2)
	cm.Unregister("user123", "thread-1", conn1)
	cm.Unregister("user123", "thread-2", conn1)

	if n := cm.Count("user123"); n != 1 {
		t.Errorf("Expected thread-2 to stay registered, got %d connections", n)
	}
}

func TestConnManager_ConcurrentAccess(t *testing.T) {
	cm := NewConnManager()
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			cm.Register("concurrentUser", "thread-"+strconv.Itoa(i), &websocket.Conn{})
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			cm.Count("concurrentUser")
		}
	}()

	wg.Wait()
	if n := cm.Count("concurrentUser"); n != 1000 {
		t.Errorf("Expected 1000 connections, got %d", n)
	}
}
