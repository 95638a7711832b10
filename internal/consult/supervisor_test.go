package consult

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"medlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyTransport struct {
	mu        sync.Mutex
	attempts  int
	failUntil int
	incoming  chan *domain.Envelope
}

func (t *flakyTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts++
	if t.attempts <= t.failUntil {
		return fmt.Errorf("dial refused (attempt %d)", t.attempts)
	}
	return nil
}

func (t *flakyTransport) Send(env *domain.Envelope) error   { return nil }
func (t *flakyTransport) Incoming() <-chan *domain.Envelope { return t.incoming }
func (t *flakyTransport) Close() error                      { return nil }

func (t *flakyTransport) attemptCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

func TestSupervisorRetriesThenConnects(t *testing.T) {
	transport := &flakyTransport{failUntil: 2}

	var statuses []Status
	var mu sync.Mutex
	sup := NewSupervisor(transport, DefaultPolicy(3, time.Millisecond), func(s Status) {
		mu.Lock()
		statuses = append(statuses, s)
		mu.Unlock()
	}, nil)

	require.NoError(t, sup.Connect(context.Background()))

	assert.Equal(t, 3, transport.attemptCount())
	assert.Equal(t, StatusConnected, sup.Status())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, statuses)
}

func TestSupervisorGivesUpAfterBound(t *testing.T) {
	transport := &flakyTransport{failUntil: 10}
	sup := NewSupervisor(transport, DefaultPolicy(3, time.Millisecond), nil, nil)

	err := sup.Connect(context.Background())
	require.Error(t, err)

	callErr, ok := err.(*CallError)
	require.True(t, ok)
	assert.Equal(t, ErrKindTransport, callErr.Kind)

	assert.Equal(t, 3, transport.attemptCount())
	assert.Equal(t, StatusError, sup.Status())
}

func TestSupervisorCancelAbortsBackoff(t *testing.T) {
	transport := &flakyTransport{failUntil: 10}
	sup := NewSupervisor(transport, DefaultPolicy(3, time.Hour), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := sup.Connect(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSupervisorMarkDisconnected(t *testing.T) {
	transport := &flakyTransport{}
	sup := NewSupervisor(transport, DefaultPolicy(1, time.Millisecond), nil, nil)

	require.NoError(t, sup.Connect(context.Background()))
	require.Equal(t, StatusConnected, sup.Status())

	sup.MarkDisconnected()
	assert.Equal(t, StatusDisconnected, sup.Status())
}
