package relay

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, agent AgentPort, max int) *MemoryRegistry {
	t.Helper()
	r, err := NewMemoryRegistry(RegistryOptions{
		BaseCtx:     context.Background(),
		Agent:       agent,
		MaxSessions: max,
	})
	require.NoError(t, err)
	t.Cleanup(r.CloseAll)
	return r
}

func TestNewMemoryRegistry_ValidatesRequiredDependencies(t *testing.T) {
	_, err := NewMemoryRegistry(RegistryOptions{})
	require.ErrorContains(t, err, "base context is nil")

	_, err = NewMemoryRegistry(RegistryOptions{BaseCtx: context.Background()})
	require.ErrorContains(t, err, "agent is nil")
}

func TestMemoryRegistry_CreateGetRemove(t *testing.T) {
	agent := &echoAgent{}
	r := newTestRegistry(t, agent, 0)

	s, err := r.CreateSession(context.Background(), " s1 ")
	require.NoError(t, err)
	require.Equal(t, "s1", s.ID)
	require.Equal(t, "s1", s.Agent.UserID)
	require.Equal(t, 1, r.Count())

	got, ok := r.Get("s1")
	require.True(t, ok)
	require.Same(t, s, got)

	r.Remove(s)
	require.Equal(t, 0, r.Count())
	require.ErrorIs(t, s.Queue.Push(UserText("after")), ErrQueueClosed)
	select {
	case <-s.Done():
	default:
		t.Fatal("session not closed")
	}
}

func TestMemoryRegistry_RejectsEmptyID(t *testing.T) {
	r := newTestRegistry(t, &echoAgent{}, 0)
	_, err := r.CreateSession(context.Background(), "  ")
	require.ErrorContains(t, err, "missing session id")
}

func TestMemoryRegistry_DuplicateIDReplacesPrevious(t *testing.T) {
	r := newTestRegistry(t, &echoAgent{}, 0)

	first, err := r.CreateSession(context.Background(), "dup")
	require.NoError(t, err)
	second, err := r.CreateSession(context.Background(), "dup")
	require.NoError(t, err)

	require.NotSame(t, first, second)
	require.Equal(t, 1, r.Count())
	<-first.Done()

	// removing the stale session must not drop the live one
	r.Remove(first)
	got, ok := r.Get("dup")
	require.True(t, ok)
	require.Same(t, second, got)
}

func TestMemoryRegistry_MaxSessions(t *testing.T) {
	r := newTestRegistry(t, &echoAgent{}, 1)

	_, err := r.CreateSession(context.Background(), "a")
	require.NoError(t, err)
	_, err = r.CreateSession(context.Background(), "b")
	require.ErrorIs(t, err, ErrRegistryFull)

	_, err = r.CreateSession(context.Background(), "a")
	require.NoError(t, err, "replacing an existing id is always allowed")
}

func TestMemoryRegistry_AgentFailures(t *testing.T) {
	r := newTestRegistry(t, &echoAgent{failCreate: errors.New("no agent")}, 0)
	_, err := r.CreateSession(context.Background(), "x")
	require.ErrorContains(t, err, "no agent")
	require.Equal(t, 0, r.Count())

	r = newTestRegistry(t, &echoAgent{failRun: errors.New("no run")}, 0)
	_, err = r.CreateSession(context.Background(), "x")
	require.ErrorContains(t, err, "start agent run")
	require.Equal(t, 0, r.Count())
}

func TestMemoryRegistry_EvictIdleOnce(t *testing.T) {
	r := newTestRegistry(t, &echoAgent{}, 0)
	r.SetEvictionConfig(10*time.Second, time.Second)

	stale, err := r.CreateSession(context.Background(), "stale")
	require.NoError(t, err)
	fresh, err := r.CreateSession(context.Background(), "fresh")
	require.NoError(t, err)
	stale.lastActivity.Store(time.Now().Add(-time.Hour).UnixNano())
	fresh.Touch()

	require.Equal(t, []string{"stale"}, r.evictIdleOnce(time.Now()))
	_, ok := r.Get("stale")
	require.False(t, ok)
	_, ok = r.Get("fresh")
	require.True(t, ok)
	<-stale.Done()
}

func TestMemoryRegistry_EvictionDisabledByDefault(t *testing.T) {
	r := newTestRegistry(t, &echoAgent{}, 0)
	s, err := r.CreateSession(context.Background(), "s")
	require.NoError(t, err)
	s.lastActivity.Store(0)

	require.Empty(t, r.evictIdleOnce(time.Now()))
	require.Equal(t, 1, r.Count())
}

func TestMemoryRegistry_IdleSweeper(t *testing.T) {
	r := newTestRegistry(t, &echoAgent{}, 0)
	r.SetEvictionConfig(20*time.Millisecond, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.True(t, r.StartIdleSweeper(ctx))
	require.False(t, r.StartIdleSweeper(ctx))

	_, err := r.CreateSession(context.Background(), "idle")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Count() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	restart, stop := context.WithCancel(context.Background())
	defer stop()
	require.Eventually(t, func() bool { return r.StartIdleSweeper(restart) }, time.Second, 5*time.Millisecond)
}

func TestMemoryRegistry_IdleSweeperNeedsConfig(t *testing.T) {
	r := newTestRegistry(t, &echoAgent{}, 0)
	require.False(t, r.StartIdleSweeper(context.Background()))
	r.SetEvictionConfig(time.Minute, 0)
	require.False(t, r.StartIdleSweeper(context.Background()))
	r.SetEvictionConfig(time.Minute, time.Second)
	require.False(t, r.StartIdleSweeper(nil))
}
