package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxSources = 5

	// FailureMessage is the only error text a user ever sees.
	FailureMessage = "Failed to get response. Please try again."
)

var (
	ErrEmptyInput = errors.New("input is empty")
	ErrBusy       = errors.New("a request is already in flight")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one transcript entry. It is never modified after it is appended.
type ChatMessage struct {
	ID             uuid.UUID
	Role           Role
	Content        string
	Sources        []Source
	Confidence     *float64
	ProcessingTime *float64
	CreatedAt      time.Time
}

// Asker sends a question to the chatbot.
type Asker interface {
	Ask(ctx context.Context, question string, maxSources int) (*AskResponse, error)
}

type SessionOption func(*Session)

func WithMaxSources(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.maxSources = n
		}
	}
}

// Session holds an in-memory transcript and the send state around it.
type Session struct {
	asker      Asker
	maxSources int
	now        func() time.Time

	mu       sync.Mutex
	messages []ChatMessage
	loading  bool
	err      string
}

func NewSession(asker Asker, opts ...SessionOption) *Session {
	s := &Session{
		asker:      asker,
		maxSources: DefaultMaxSources,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send asks one question and appends the exchange to the transcript. A failed request
// leaves the user message in place and sets Err. The returned error is the underlying
// cause, for logging.
func (s *Session) Send(ctx context.Context, input string) error {
	question := strings.TrimSpace(input)
	if question == "" {
		return ErrEmptyInput
	}

	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return ErrBusy
	}
	s.err = ""
	s.messages = append(s.messages, ChatMessage{
		ID:        uuid.New(),
		Role:      RoleUser,
		Content:   question,
		CreatedAt: s.now(),
	})
	s.loading = true
	s.mu.Unlock()

	resp, err := s.asker.Ask(ctx, question, s.maxSources)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if err != nil {
		s.err = FailureMessage
		return err
	}

	s.messages = append(s.messages, s.assistantMessage(resp))
	return nil
}

func (s *Session) assistantMessage(resp *AskResponse) ChatMessage {
	createdAt := s.now()
	if resp.Timestamp != "" {
		if ts, err := parseTimestamp(resp.Timestamp); err == nil {
			createdAt = ts
		}
	}

	var sources []Source
	if len(resp.Sources) > 0 {
		sources = make([]Source, len(resp.Sources))
		copy(sources, resp.Sources)
	}

	return ChatMessage{
		ID:             uuid.New(),
		Role:           RoleAssistant,
		Content:        resp.Answer,
		Sources:        sources,
		Confidence:     resp.Confidence,
		ProcessingTime: resp.ProcessingTime,
		CreatedAt:      createdAt,
	}
}

// parseTimestamp accepts RFC 3339 and the zone-less ISO form some servers emit.
func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err == nil {
		return ts, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05.999999999", s, time.Local)
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the current error message, empty when the last send succeeded.
func (s *Session) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
