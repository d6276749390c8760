// Package chat holds the per-session conversation state: the transcript of
// user and assistant turns and the single-flight submission of questions to
// the answering agent.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/SaiNageswarS/go-collection-boot/async"
	"github.com/abhirockzz/langchaingo-site-assistant/agent"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

var (
	// ErrEmptyQuestion is returned when the submitted text is blank. Nothing is recorded.
	ErrEmptyQuestion = errors.New("chat: empty question")
	// ErrBusy is returned when a question is submitted while another is awaiting its answer.
	ErrBusy = errors.New("chat: a question is already awaiting a response")
)

const (
	defaultAnswerTimeout  = 60 * time.Second
	defaultArchiveTimeout = 10 * time.Second
)

// Answerer produces an answer for a question.
type Answerer interface {
	Answer(ctx context.Context, question string, format agent.Format) (string, error)
}

// State is the submission state of a Session.
type State int

const (
	Idle State = iota
	AwaitingResponse
)

func (s State) String() string {
	if s == AwaitingResponse {
		return "awaiting_response"
	}
	return "idle"
}

// Session is one browser session's conversation. At most one question is in
// flight at a time; turns are appended in completion order.
type Session struct {
	id      string
	userID  string
	agent   Answerer
	timeout time.Duration
	archive schema.ChatMessageHistory
	log     *zap.Logger
	now     func() time.Time

	archiveTimeout time.Duration
	// archiveMu orders archive writes against Clear.
	archiveMu sync.Mutex
	archiveWG sync.WaitGroup

	mu         sync.Mutex
	state      State
	input      string
	transcript []Turn
	lastActive time.Time
	closed     bool
	// turns not yet mirrored into the archive, oldest first
	unarchived []Turn
	archiving  bool
}

// Option configures a Session.
type Option func(*Session)

// WithAnswerTimeout bounds each agent call.
func WithAnswerTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithArchive mirrors every committed turn into h.
func WithArchive(h schema.ChatMessageHistory) Option {
	return func(s *Session) {
		s.archive = h
	}
}

// WithArchiveTimeout bounds each archive write.
func WithArchiveTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.archiveTimeout = d
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now for activity tracking.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSession creates an idle session with an empty transcript.
func NewSession(userID, id string, answerer Answerer, opts ...Option) *Session {
	s := &Session{
		id:      id,
		userID:  userID,
		agent:   answerer,
		timeout: defaultAnswerTimeout,
		log:     zap.NewNop(),
		now:     time.Now,

		archiveTimeout: defaultArchiveTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastActive = s.now()
	s.log = s.log.With(zap.String("userID", userID), zap.String("sessionID", id))
	return s
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// UserID returns the ID of the user owning the session.
func (s *Session) UserID() string { return s.userID }

// SetInput replaces the pending input buffer.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = text
	s.lastActive = s.now()
}

// Input returns the pending input buffer.
func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// State reports whether a question is in flight.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActive returns the time of the last submission, input change or answer.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Transcript returns a copy of the committed turns in insertion order. An
// answer still in flight is not included.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Submit dispatches the pending input buffer as a question. See SubmitQuestion.
func (s *Session) Submit(ctx context.Context) (<-chan async.Result[Turn], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatchLocked(ctx)
}

// SubmitQuestion places text in the input buffer and dispatches it. On
// dispatch the user turn is recorded and the buffer cleared before the agent
// is called; the returned future yields the assistant turn once it has been
// appended. Agent failures are recorded as a fallback assistant turn, so the
// future never carries an error.
//
// It returns ErrEmptyQuestion for blank text and ErrBusy while a previous
// question is still awaiting its answer; the rejected text stays in the buffer.
func (s *Session) SubmitQuestion(ctx context.Context, text string) (<-chan async.Result[Turn], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = text
	return s.dispatchLocked(ctx)
}

func (s *Session) dispatchLocked(ctx context.Context) (<-chan async.Result[Turn], error) {
	s.lastActive = s.now()
	if s.state == AwaitingResponse {
		return nil, ErrBusy
	}

	question := strings.TrimSpace(s.input)
	if question == "" {
		s.input = ""
		return nil, ErrEmptyQuestion
	}

	s.input = ""
	asked := Turn{Role: User, Content: question}
	s.transcript = append(s.transcript, asked)
	s.state = AwaitingResponse
	s.archiveLocked(asked)

	// The answer is committed even if the caller goes away.
	callCtx := context.WithoutCancel(ctx)

	return async.Go(func() (Turn, error) {
		reply := s.ask(callCtx, question)

		s.mu.Lock()
		s.transcript = append(s.transcript, reply)
		s.state = Idle
		s.lastActive = s.now()
		s.archiveLocked(reply)
		s.mu.Unlock()

		return reply, nil
	}), nil
}

type answer struct {
	text string
	err  error
}

func (s *Session) ask(ctx context.Context, question string) Turn {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan answer, 1)
	go func() {
		text, err := s.agent.Answer(ctx, question, agent.RichText)
		done <- answer{text: text, err: err}
	}()

	var res answer
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = &agent.Error{Kind: agent.Timeout, Err: ctx.Err()}
	}

	if res.err == nil && strings.TrimSpace(res.text) == "" {
		res.err = &agent.Error{Kind: agent.EmptyResponse}
	}
	if res.err != nil {
		s.log.Warn("Answer unavailable", zap.Duration("elapsed", time.Since(start)), zap.Error(res.err))
		return Turn{Role: Assistant, Content: FallbackMessage(res.err)}
	}

	s.log.Info("Answer committed", zap.Duration("elapsed", time.Since(start)))
	return Turn{Role: Assistant, Content: res.text}
}

// archiveLocked queues t for mirroring into the archive. Writes happen in
// commit order on a single goroutine and never hold up the session.
func (s *Session) archiveLocked(t Turn) {
	if s.archive == nil || s.closed {
		return
	}
	s.unarchived = append(s.unarchived, t)
	if s.archiving {
		return
	}
	s.archiving = true
	s.archiveWG.Add(1)
	go s.drainArchive()
}

func (s *Session) drainArchive() {
	defer s.archiveWG.Done()
	for {
		s.mu.Lock()
		if s.closed || len(s.unarchived) == 0 {
			s.unarchived = nil
			s.archiving = false
			s.mu.Unlock()
			return
		}
		t := s.unarchived[0]
		s.unarchived = s.unarchived[1:]
		s.mu.Unlock()

		s.writeArchive(t)
	}
}

func (s *Session) writeArchive(t Turn) {
	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.archiveTimeout)
	defer cancel()

	var err error
	if t.Role == User {
		err = s.archive.AddUserMessage(ctx, t.Content)
	} else {
		err = s.archive.AddAIMessage(ctx, t.Content)
	}
	if err != nil {
		s.log.Error("Failed to archive turn", zap.String("role", string(t.Role)), zap.Error(err))
	}
}

// close tears the session down: queued archive writes are dropped and the
// archived copy of the conversation is removed. An answer still in flight is
// committed to the transcript but never archived.
func (s *Session) close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.unarchived = nil
	s.mu.Unlock()

	if s.archive == nil {
		return nil
	}
	// Waits out a write already in progress.
	s.archiveMu.Lock()
	defer s.archiveMu.Unlock()
	return s.archive.Clear(ctx)
}
