package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/SaiNageswarS/go-collection-boot/async"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/memory"
	"github.com/tmc/langchaingo/schema"
)

type archives struct {
	mu      sync.Mutex
	history map[string]*memory.ChatMessageHistory
}

func (a *archives) factory(userID, sessionID string) (schema.ChatMessageHistory, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.history == nil {
		a.history = make(map[string]*memory.ChatMessageHistory)
	}
	key := sessionKey(userID, sessionID)
	if h, ok := a.history[key]; ok {
		return h, nil
	}
	h := memory.NewChatMessageHistory()
	a.history[key] = h
	return h, nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRegistryGetOrCreate(t *testing.T) {
	r := NewRegistry(&fakeAnswerer{})

	_, ok := r.Get("user", "s1")
	assert.False(t, ok)

	s1, err := r.GetOrCreate("user", "s1")
	require.NoError(t, err)
	again, err := r.GetOrCreate("user", "s1")
	require.NoError(t, err)
	assert.Same(t, s1, again)

	other, err := r.GetOrCreate("other_user", "s1")
	require.NoError(t, err)
	assert.NotSame(t, s1, other)
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get("user", "s1")
	assert.True(t, ok)
	assert.Same(t, s1, got)
}

func TestRegistryIsolation(t *testing.T) {
	r := NewRegistry(&fakeAnswerer{})

	s1, err := r.GetOrCreate("user1", "session")
	require.NoError(t, err)
	s2, err := r.GetOrCreate("user2", "session")
	require.NoError(t, err)

	f1, err := s1.SubmitQuestion(context.Background(), "What is a drone?")
	require.NoError(t, err)
	f2, err := s2.SubmitQuestion(context.Background(), "Where is TSAW?")
	require.NoError(t, err)
	_, err = async.Await(f1)
	require.NoError(t, err)
	_, err = async.Await(f2)
	require.NoError(t, err)

	assert.Equal(t, "What is a drone?", s1.Transcript()[0].Content)
	assert.Equal(t, "Where is TSAW?", s2.Transcript()[0].Content)
	assert.Len(t, s1.Transcript(), 2)
	assert.Len(t, s2.Transcript(), 2)
}

func TestRegistryArchive(t *testing.T) {
	store := &archives{}
	r := NewRegistry(&fakeAnswerer{}, WithArchiveFactory(store.factory))

	s, err := r.GetOrCreate("user", "session")
	require.NoError(t, err)
	future, err := s.SubmitQuestion(context.Background(), "Hello")
	require.NoError(t, err)
	_, err = async.Await(future)
	require.NoError(t, err)
	s.archiveWG.Wait()

	messages, err := store.history[sessionKey("user", "session")].Messages(context.Background())
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	require.NoError(t, r.Delete(context.Background(), "user", "session"))
	_, ok := r.Get("user", "session")
	assert.False(t, ok)

	messages, err = store.history[sessionKey("user", "session")].Messages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestRegistryDeleteWhileAnswering(t *testing.T) {
	store := &archives{}
	fake := &fakeAnswerer{gate: make(chan struct{}), started: make(chan string, 1)}
	r := NewRegistry(fake, WithArchiveFactory(store.factory))

	s, err := r.GetOrCreate("user", "session")
	require.NoError(t, err)
	future, err := s.SubmitQuestion(context.Background(), "A")
	require.NoError(t, err)
	<-fake.started

	require.NoError(t, r.Delete(context.Background(), "user", "session"))
	close(fake.gate)
	_, err = async.Await(future)
	require.NoError(t, err)
	s.archiveWG.Wait()

	messages, err := store.history[sessionKey("user", "session")].Messages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, messages, "no turn may be archived after the conversation is deleted")
}

func TestRegistryDeleteNotLive(t *testing.T) {
	store := &archives{}
	h, _ := store.factory("user", "old")
	require.NoError(t, h.AddUserMessage(context.Background(), "archived"))

	r := NewRegistry(&fakeAnswerer{}, WithArchiveFactory(store.factory))
	require.NoError(t, r.Delete(context.Background(), "user", "old"))

	messages, err := h.Messages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, messages)

	// No archive configured: deleting an unknown session is not an error.
	assert.NoError(t, NewRegistry(&fakeAnswerer{}).Delete(context.Background(), "user", "missing"))
}

func TestRegistryArchiveFactoryError(t *testing.T) {
	r := NewRegistry(&fakeAnswerer{}, WithArchiveFactory(func(string, string) (schema.ChatMessageHistory, error) {
		return nil, errors.New("cosmos unavailable")
	}))

	_, err := r.GetOrCreate("user", "session")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cosmos unavailable")
	assert.Zero(t, r.Len())
}

func TestRegistrySweep(t *testing.T) {
	clock := &manualClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	gate := make(chan struct{})
	started := make(chan string, 1)
	r := NewRegistry(&fakeAnswerer{gate: gate, started: started}, WithRegistryClock(clock.Now))

	idle, err := r.GetOrCreate("user", "idle")
	require.NoError(t, err)
	busy, err := r.GetOrCreate("user", "busy")
	require.NoError(t, err)
	active, err := r.GetOrCreate("user", "active")
	require.NoError(t, err)

	future, err := busy.SubmitQuestion(context.Background(), "slow")
	require.NoError(t, err)
	<-started

	clock.Advance(45 * time.Minute)
	active.SetInput("typing")
	clock.Advance(20 * time.Minute)

	removed := r.Sweep(time.Hour)
	assert.Equal(t, 1, removed)
	_, ok := r.Get(idle.UserID(), idle.ID())
	assert.False(t, ok)
	_, ok = r.Get("user", "busy")
	assert.True(t, ok)
	_, ok = r.Get("user", "active")
	assert.True(t, ok)

	gate <- struct{}{}
	_, err = async.Await(future)
	require.NoError(t, err)
}
