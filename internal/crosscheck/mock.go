package crosscheck

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockQuerier is a scripted Querier for tests
type MockQuerier struct {
	mu         sync.Mutex
	responses  map[string]*Response
	errors     map[string]error
	delays     map[string]time.Duration
	callCounts map[string]int
}

// NewMockQuerier creates an empty mock; unknown servers fail
func NewMockQuerier() *MockQuerier {
	return &MockQuerier{
		responses:  make(map[string]*Response),
		errors:     make(map[string]error),
		delays:     make(map[string]time.Duration),
		callCounts: make(map[string]int),
	}
}

// Query implements Querier
func (m *MockQuerier) Query(ctx context.Context, server string) (*Response, error) {
	m.mu.Lock()
	m.callCounts[server]++
	delay := m.delays[server]
	err, hasErr := m.errors[server]
	resp, hasResp := m.responses[server]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if hasErr {
		return nil, err
	}
	if !hasResp {
		return nil, errors.New("no mock response configured")
	}
	out := *resp
	out.Server = server
	return &out, nil
}

// SetResponse scripts the reply of server
func (m *MockQuerier) SetResponse(server string, resp *Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[server] = resp
	delete(m.errors, server)
}

// SetError makes every query to server fail with err
func (m *MockQuerier) SetError(server string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[server] = err
}

// SetDelay delays the replies of server
func (m *MockQuerier) SetDelay(server string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[server] = d
}

// CallCount returns the number of queries to server
func (m *MockQuerier) CallCount(server string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[server]
}
