package mqtt

import (
	"fmt"
	"sync"
	"time"

	"github.com/okellodev/microgrid/core/model"
)

// MockClient is a simple command client used in tests.
type MockClient struct {
	Commands   map[string]model.RelayState
	FailIDs    map[string]bool
	AckResults map[string]bool
	mu         sync.Mutex
}

// NewMockClient creates a new MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		Commands:   make(map[string]model.RelayState),
		FailIDs:    make(map[string]bool),
		AckResults: make(map[string]bool),
	}
}

// SendCommand records the command or returns an error if configured to fail.
func (m *MockClient) SendCommand(zoneID string, target model.RelayState) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIDs[zoneID] {
		return "", fmt.Errorf("publish failed")
	}
	m.Commands[zoneID] = target
	commandID := fmt.Sprintf("cmd-%s", zoneID)
	m.AckResults[commandID] = true
	return commandID, nil
}

// WaitForAck simulates an immediate acknowledgment based on the stored result.
func (m *MockClient) WaitForAck(commandID string, timeout time.Duration) (bool, error) {
	m.mu.Lock()
	ok, exists := m.AckResults[commandID]
	m.mu.Unlock()
	if !exists {
		return false, fmt.Errorf("unknown command")
	}
	return ok, nil
}
