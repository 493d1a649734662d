package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/playonchain/arena/network"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct{}

func (m *MockConnection) Send(msgID uint16, data []byte) error { return nil }
func (m *MockConnection) Close() error                         { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)  {}
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func TestNewManager(t *testing.T) {
	manager := NewManager()
	if manager == nil {
		t.Fatal("NewManager should not return nil")
	}
	if manager.sessions == nil {
		t.Fatal("NewManager should initialize the sessions map")
	}
}

func TestManager_Add_Get_Remove(t *testing.T) {
	manager := NewManager()
	sessionID := "test_session_1"
	sess := NewSession(sessionID, &MockConnection{})

	// Test Add
	manager.Add(sess)
	if manager.Count() != 1 {
		t.Fatalf("Expected session count to be 1, got %d", manager.Count())
	}

	// Test Get
	retrievedSess, exists := manager.Get(sessionID)
	if !exists {
		t.Fatal("Get should find the added session")
	}
	if retrievedSess != sess {
		t.Fatal("Get should return the same session instance")
	}

	// Test Remove
	manager.Remove(sessionID)
	if manager.Count() != 0 {
		t.Fatalf("Expected session count to be 0 after removal, got %d", manager.Count())
	}

	_, exists = manager.Get(sessionID)
	if exists {
		t.Fatal("Get should not find the removed session")
	}
}

func TestManager_GetByAddress(t *testing.T) {
	manager := NewManager()

	sess1 := NewSession("session1", &MockConnection{})
	sess1.SetAddress("0xaaa")

	sess2 := NewSession("session2", &MockConnection{})
	sess2.SetAddress("0xbbb")

	sess3 := NewSession("session3", &MockConnection{})
	sess3.SetAddress("0xaaa")

	manager.Add(sess1)
	manager.Add(sess2)
	manager.Add(sess3)

	aaaSessions := manager.GetByAddress("0xaaa")
	if len(aaaSessions) != 2 {
		t.Errorf("Expected 2 sessions for 0xaaa, got %d", len(aaaSessions))
	}

	bbbSessions := manager.GetByAddress("0xbbb")
	if len(bbbSessions) != 1 {
		t.Errorf("Expected 1 session for 0xbbb, got %d", len(bbbSessions))
	}

	noneSessions := manager.GetByAddress("0xccc")
	if len(noneSessions) != 0 {
		t.Errorf("Expected 0 sessions for 0xccc, got %d", len(noneSessions))
	}
}

func TestSession_ConcurrentTouchAndSend(t *testing.T) {
	sess := NewSession("session1", &MockConnection{})

	// Touch comes from the read loop, Send from broadcast goroutines.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sess.Touch()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sess.Send(1, nil)
				sess.LastActive()
			}
		}()
	}
	wg.Wait()

	if sess.LastActive().IsZero() {
		t.Error("LastActive should be set after activity")
	}
}

func TestSession_Subscriptions(t *testing.T) {
	manager := NewManager()

	sess1 := NewSession("session1", &MockConnection{})
	sess2 := NewSession("session2", &MockConnection{})
	manager.Add(sess1)
	manager.Add(sess2)

	sess1.Subscribe("game-1")
	sess2.Subscribe("game-1")
	sess2.Subscribe("game-2")

	if !sess1.SubscribedTo("game-1") {
		t.Error("sess1 should be subscribed to game-1")
	}
	if sess1.SubscribedTo("game-2") {
		t.Error("sess1 should not be subscribed to game-2")
	}

	if got := len(manager.SubscribersOf("game-1")); got != 2 {
		t.Errorf("Expected 2 subscribers of game-1, got %d", got)
	}
	if got := len(manager.SubscribersOf("game-2")); got != 1 {
		t.Errorf("Expected 1 subscriber of game-2, got %d", got)
	}

	sess2.Unsubscribe("game-1")
	if got := len(manager.SubscribersOf("game-1")); got != 1 {
		t.Errorf("Expected 1 subscriber after unsubscribe, got %d", got)
	}
}
