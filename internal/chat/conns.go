package chat

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// ConnManager tracks the open chat connection of every user thread.
type ConnManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewConnManager creates an empty connection manager.
func NewConnManager() *ConnManager {
	return &ConnManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// Count returns the number of open connections of a user.
func (m *ConnManager) Count(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[userID])
}

// Register records conn for a thread. A thread opened in a second tab
// replaces the first connection, which is closed.
func (m *ConnManager) Register(userID, threadID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[userID][threadID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusPolicyViolation, "thread opened elsewhere")
	}

	m.active[userID][threadID] = conn
	slog.Info("Chat connection registered", "user_id", userID, "thread_id", threadID)
}

// Unregister removes conn if it is still the thread's current connection.
func (m *ConnManager) Unregister(userID, threadID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if threads, ok := m.active[userID]; ok {
		if current, exists := threads[threadID]; exists && current == conn {
			delete(threads, threadID)
			if len(threads) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Chat connection unregistered", "user_id", userID, "thread_id", threadID)
		}
	}
}

// CloseUser closes every open chat of a user, e.g. on logout.
func (m *ConnManager) CloseUser(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	threads, ok := m.active[userID]
	if !ok {
		return
	}

	for tid, conn := range threads {
		_ = conn.Close(websocket.StatusNormalClosure, "logged out")
		slog.Info("Chat connection closed", "user_id", userID, "thread_id", tid)
	}
	delete(m.active, userID)
}

// CloseAll closes every open chat, e.g. on server shutdown.
func (m *ConnManager) CloseAll() {
	m.mu.Lock()
	var conns []*websocket.Conn
	for userID, threads := range m.active {
		for _, conn := range threads {
			conns = append(conns, conn)
		}
		delete(m.active, userID)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		}()
	}
	wg.Wait()
	slog.Info("Chat connections closed", "count", len(conns))
}
