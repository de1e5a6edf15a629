package transport

import (
	"sync"
	"time"
)

// Mock is a scripted Transport for tests. Each Send pops the next error
// from Script (nil once the script is exhausted) and records the command
// line. Queries pop report lines from Reports.
type Mock struct {
	mu      sync.Mutex
	sent    []string
	script  []error
	reports []string
	closed  bool
}

var _ Transport = (*Mock)(nil)

// NewMock returns a mock whose first len(script) round trips resolve to
// the given errors in order.
func NewMock(script ...error) *Mock {
	return &Mock{script: script}
}

// Sent returns a copy of every command line sent so far, acknowledged or
// not.
func (m *Mock) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	copy(out, m.sent)
	return out
}

// AddReport queues a report line for the next Query.
func (m *Mock) AddReport(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, line)
}

func (m *Mock) Send(line string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, line)
	return m.pop()
}

func (m *Mock) Query(line string, _ time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, line)
	if err := m.pop(); err != nil {
		return "", err
	}
	if len(m.reports) == 0 {
		return "", nil
	}
	r := m.reports[0]
	m.reports = m.reports[1:]
	return r, nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Mock) pop() error {
	if len(m.script) == 0 {
		return nil
	}
	err := m.script[0]
	m.script = m.script[1:]
	return err
}
