// ABOUTME: In-memory ConnectionStore for tests and single-node deployments
// ABOUTME: Enforces atomic single-use consumption under a mutex

package oauthflow

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory ConnectionStore. Safe for concurrent use.
type MemoryStore struct {
	mu          sync.Mutex
	connections map[string]*Connection
}

// NewMemoryStore creates an empty in-memory connection store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{connections: make(map[string]*Connection)}
}

// CreateConnection records a pending connection.
func (s *MemoryStore) CreateConnection(_ context.Context, conn *Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.connections[conn.ID]; exists {
		return fmt.Errorf("connection %s already exists", conn.ID)
	}
	copied := *conn
	s.connections[conn.ID] = &copied
	return nil
}

// ConsumeConnection atomically validates and consumes the state nonce.
// Unknown ID, state mismatch, expiry, and replay all collapse to
// ErrStateInvalid so a forged callback learns nothing.
func (s *MemoryStore) ConsumeConnection(_ context.Context, connectionID, state string, now time.Time) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.connections[connectionID]
	if !ok {
		return nil, ErrStateInvalid
	}
	if subtle.ConstantTimeCompare([]byte(conn.State), []byte(state)) != 1 {
		return nil, ErrStateInvalid
	}
	if conn.ConsumedAt != nil {
		return nil, ErrStateInvalid
	}
	if now.After(conn.ExpiresAt) {
		return nil, ErrStateInvalid
	}

	consumed := now
	conn.ConsumedAt = &consumed
	copied := *conn
	return &copied, nil
}
