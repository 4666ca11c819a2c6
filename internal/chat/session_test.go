package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAsker struct {
	mu        sync.Mutex
	calls     int
	questions []string
	sources   []int
	resp      *AskResponse
	err       error
	block     chan struct{}
	started   chan struct{}
}

func (f *fakeAsker) Ask(ctx context.Context, question string, maxSources int) (*AskResponse, error) {
	f.mu.Lock()
	f.calls++
	f.questions = append(f.questions, question)
	f.sources = append(f.sources, maxSources)
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.resp, f.err
}

func (f *fakeAsker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func floatPtr(f float64) *float64 { return &f }

func TestSendEmptyInput(t *testing.T) {
	asker := &fakeAsker{}
	s := NewSession(asker)

	for _, input := range []string{"", "   ", "\n\t "} {
		err := s.Send(context.Background(), input)
		assert.ErrorIs(t, err, ErrEmptyInput)
	}

	assert.Empty(t, s.Messages())
	assert.Zero(t, asker.callCount())
	assert.False(t, s.Loading())
	assert.Empty(t, s.Err())
}

func TestSendSuccess(t *testing.T) {
	asker := &fakeAsker{resp: &AskResponse{
		Answer: "Twenty days per year.",
		Sources: []Source{
			{Filename: "a.pdf", RelevanceScore: 0.9},
			{Filename: "b.md", RelevanceScore: 0.6},
			{Filename: "c.txt", RelevanceScore: 0.3},
		},
		Confidence:     floatPtr(0.8),
		ProcessingTime: floatPtr(1.5),
		Timestamp:      "2026-10-18T10:00:00Z",
	}}
	s := NewSession(asker, WithMaxSources(3))

	require.NoError(t, s.Send(context.Background(), "  How much leave?  "))

	msgs := s.Messages()
	require.Len(t, msgs, 2)

	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "How much leave?", msgs[0].Content)
	assert.Equal(t, []string{"How much leave?"}, asker.questions)
	assert.Equal(t, []int{3}, asker.sources)

	reply := msgs[1]
	assert.Equal(t, RoleAssistant, reply.Role)
	assert.Equal(t, "Twenty days per year.", reply.Content)
	require.Len(t, reply.Sources, 3)
	assert.Equal(t, "a.pdf", reply.Sources[0].Filename)
	assert.Equal(t, "b.md", reply.Sources[1].Filename)
	assert.Equal(t, "c.txt", reply.Sources[2].Filename)
	assert.InDelta(t, 0.8, *reply.Confidence, 1e-9)
	assert.InDelta(t, 1.5, *reply.ProcessingTime, 1e-9)
	assert.True(t, reply.CreatedAt.Equal(time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)))
	assert.NotEqual(t, msgs[0].ID, reply.ID)

	assert.False(t, s.Loading())
	assert.Empty(t, s.Err())
}

func TestSendUnparseableTimestampUsesNow(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := NewSession(&fakeAsker{resp: &AskResponse{Answer: "ok", Timestamp: "yesterday"}})
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Send(context.Background(), "hi"))
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, fixed, msgs[1].CreatedAt)
	assert.Empty(t, msgs[1].Sources)
	assert.Nil(t, msgs[1].Confidence)
}

func TestSendFailure(t *testing.T) {
	cause := errors.New("connection refused")
	s := NewSession(&fakeAsker{err: cause})

	err := s.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, cause)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, FailureMessage, s.Err())
	assert.Equal(t, "Failed to get response. Please try again.", s.Err())
	assert.False(t, s.Loading())
}

func TestSendClearsPreviousError(t *testing.T) {
	asker := &fakeAsker{err: errors.New("down")}
	s := NewSession(asker)
	require.Error(t, s.Send(context.Background(), "first"))
	require.Equal(t, FailureMessage, s.Err())

	asker.err = nil
	asker.resp = &AskResponse{Answer: "back"}
	require.NoError(t, s.Send(context.Background(), "second"))

	assert.Empty(t, s.Err())
	msgs := s.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, "back", msgs[2].Content)
}

func TestSendRejectedWhileLoading(t *testing.T) {
	asker := &fakeAsker{
		resp:    &AskResponse{Answer: "done"},
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	s := NewSession(asker)

	done := make(chan error, 1)
	go func() {
		done <- s.Send(context.Background(), "first")
	}()
	<-asker.started

	assert.True(t, s.Loading())
	assert.ErrorIs(t, s.Send(context.Background(), "second"), ErrBusy)
	assert.Len(t, s.Messages(), 1)

	close(asker.block)
	require.NoError(t, <-done)

	assert.Equal(t, 1, asker.callCount())
	assert.False(t, s.Loading())
	assert.Len(t, s.Messages(), 2)
}

func TestMessagesReturnsCopy(t *testing.T) {
	s := NewSession(&fakeAsker{resp: &AskResponse{Answer: "ok"}})
	require.NoError(t, s.Send(context.Background(), "hi"))

	msgs := s.Messages()
	msgs[0].Content = "changed"
	assert.Equal(t, "hi", s.Messages()[0].Content)
}

func TestWithMaxSourcesIgnoresNonPositive(t *testing.T) {
	s := NewSession(&fakeAsker{}, WithMaxSources(0))
	assert.Equal(t, DefaultMaxSources, s.maxSources)
}
