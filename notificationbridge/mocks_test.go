package notificationbridge_test

import (
	"context"
	"errors"
	"sync"

	"github.com/tinywideclouds/go-platform/pkg/notification/v1"
)

// mockDispatcher records mobile dispatches.
type mockDispatcher struct {
	mu          sync.Mutex
	callCount   int
	lastTokens  []string
	lastContent notification.NotificationContent
	lastData    map[string]string
	failOnCount int
}

func newMockDispatcher(failOnCount int) *mockDispatcher {
	return &mockDispatcher{failOnCount: failOnCount}
}

func (m *mockDispatcher) Dispatch(_ context.Context, tokens []string, content notification.NotificationContent, data map[string]string) (string, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.lastTokens = tokens
	m.lastContent = content
	m.lastData = data
	if m.failOnCount > 0 && m.callCount == m.failOnCount {
		return "", nil, errors.New("fail")
	}
	return "123-343-success", nil, nil
}

func (m *mockDispatcher) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *mockDispatcher) GetLastTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTokens
}

func (m *mockDispatcher) GetLastContent() notification.NotificationContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastContent
}

func (m *mockDispatcher) GetLastData() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastData
}
