package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightgems/openai-api-server/internal/llm"
)

func TestGetOrCreateReplaceRemove(t *testing.T) {
	s := NewStore()

	h := s.GetOrCreate("c1")
	assert.Empty(t, h)
	assert.Equal(t, 1, s.Len())
	assert.Empty(t, s.GetOrCreate("c1"), "idempotent")
	assert.Equal(t, 1, s.Len())

	s.Replace("c1", History{llm.UserMessage("hi"), llm.AssistantMessage("hello")})
	s.Replace("c2", History{llm.UserMessage("foo")})

	got := s.GetOrCreate("c1")
	assert.Equal(t, History{llm.UserMessage("hi"), llm.AssistantMessage("hello")}, got)
	assert.Equal(t, []string{"c1", "c2"}, s.IDs())

	// copy semantics
	got[0] = llm.UserMessage("mutated")
	again, ok := s.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "hi", again[0].Content)

	s.Remove("c1")
	_, ok = s.Get("c1")
	assert.False(t, ok)
	assert.Empty(t, s.GetOrCreate("c1"), "removed id starts fresh")

	c2, _ := s.Get("c2")
	assert.Len(t, c2, 1, "remove must not affect other conversations")
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewStore()
	s.Replace("b", History{llm.UserMessage("q1"), llm.AssistantMessage("a1")})
	s.Replace("a", History{llm.SystemMessage("sys"), llm.UserMessage("q")})
	s.GetOrCreate("empty")

	data, err := s.Snapshot()
	require.NoError(t, err)

	restored := NewStore()
	require.NoError(t, restored.Restore(data))

	assert.Equal(t, s.conversations, restored.conversations)

	again, err := restored.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, data, again, "snapshot must be deterministic")
}

func TestSnapshotFormat(t *testing.T) {
	s := NewStore()
	s.Replace("c1", History{llm.UserMessage("hi"), llm.AssistantMessage("hello")})

	data, err := s.Snapshot()
	require.NoError(t, err)
	assert.JSONEq(t, `{"c1":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`, string(data))
}

func TestRestoreRejectsMalformed(t *testing.T) {
	inputs := map[string]string{
		"not json":     `{"c1": [`,
		"wrong shape":  `["c1"]`,
		"unknown role": `{"c1":[{"role":"robot","content":"x"}]}`,
		"missing role": `{"c1":[{"content":"hi"}]}`,
		"empty role":   `{"c1":[{"role":"","content":"hi"}]}`,
		"null":         `null`,
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			s := NewStore()
			s.Replace("keep", History{llm.UserMessage("x")})

			err := s.Restore([]byte(in))

			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr), "got %v", err)
			_, ok := s.Get("keep")
			assert.True(t, ok, "failed restore must keep the current mapping")
		})
	}
}

func TestRestoreNullHistoryBecomesEmpty(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Restore([]byte(`{"c1":null}`)))
	h, ok := s.Get("c1")
	require.True(t, ok)
	assert.NotNil(t, h)
	assert.Empty(t, h)
}

func TestLockSerializesSameConversation(t *testing.T) {
	s := NewStore()
	const workers = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := s.Lock(context.Background(), "c1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			h := s.GetOrCreate("c1")
			h = append(h, llm.UserMessage("q"), llm.AssistantMessage("a"))
			s.Replace("c1", h)
		}()
	}
	wg.Wait()

	h, _ := s.Get("c1")
	assert.Len(t, h, workers*2)
	for i := 0; i < len(h); i += 2 {
		assert.Equal(t, llm.RoleUser, h[i].Role)
		assert.Equal(t, llm.RoleAssistant, h[i+1].Role)
	}
	assert.Empty(t, s.locks, "released locks are dropped")
}

func TestLockDoesNotBlockOtherConversations(t *testing.T) {
	s := NewStore()
	unlock, err := s.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	done := make(chan struct{})
	go func() {
		u, err := s.Lock(context.Background(), "b")
		if assert.NoError(t, err) {
			u()
		}
		close(done)
	}()
	<-done
}

func TestLockWaitGivesUpWithContext(t *testing.T) {
	s := NewStore()
	unlock, err := s.Lock(context.Background(), "c1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Lock(ctx, "c1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Empty(t, s.locks, "abandoned waiters release their reference")

	again, err := s.Lock(context.Background(), "c1")
	require.NoError(t, err)
	again()
}

func TestLockCancelledContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Lock(ctx, "c1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, s.locks)
}
