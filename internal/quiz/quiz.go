// Package quiz runs interactive quiz sessions. Sessions live purely in
// memory: an interrupted quiz simply disappears, only quiz content is
// persisted.
package quiz

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"pillbot/internal/storage"
)

var (
	// ErrSessionActive is returned when starting a quiz while another one is
	// running in the same user+chat.
	ErrSessionActive = errors.New("quiz session already active")

	// ErrNoSession is returned by Answer and Cancel when no session exists.
	ErrNoSession = errors.New("no active quiz session")
)

// Session tracks one user's progress through a quiz in one chat.
type Session struct {
	QuizName  string
	Questions []storage.QuizQuestion
	Index     int
	Correct   int
	Incorrect int
	StartedAt time.Time
}

// Current returns the question awaiting an answer, or nil when the quiz is
// finished.
func (s *Session) Current() *storage.QuizQuestion {
	if s.Index >= len(s.Questions) {
		return nil
	}
	return &s.Questions[s.Index]
}

// Done reports whether every question has been answered.
func (s *Session) Done() bool { return s.Index >= len(s.Questions) }

// Result is the outcome of answering one question.
type Result struct {
	WasCorrect  bool
	CorrectText string // text of the right option, for the "wrong answer" reply
	Finished    bool
	Correct     int
	Incorrect   int
	Total       int
}

// Manager holds the active sessions, one at most per user+chat pair.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: map[string]*Session{}}
}

func sessionKey(userID, chatID int64) string {
	return fmt.Sprintf("%d_%d", userID, chatID)
}

// Start opens a session for the given quiz content. Questions must be
// non-empty; the caller loads and shuffles them as it sees fit.
func (m *Manager) Start(userID, chatID int64, quizName string, questions []storage.QuizQuestion) (*Session, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("quiz %q has no questions", quizName)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(userID, chatID)
	if _, ok := m.sessions[key]; ok {
		return nil, ErrSessionActive
	}

	s := &Session{
		QuizName:  quizName,
		Questions: questions,
		StartedAt: time.Now(),
	}
	m.sessions[key] = s
	return s, nil
}

// Active returns a copy of the user's running session, or nil.
func (m *Manager) Active(userID, chatID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey(userID, chatID)]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// Answer records the option index chosen for the current question and
// advances the session. When the last question is answered the session is
// removed and Result.Finished is set.
func (m *Manager) Answer(userID, chatID int64, optionIdx int) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(userID, chatID)
	s, ok := m.sessions[key]
	if !ok {
		return nil, ErrNoSession
	}

	q := s.Current()
	if q == nil {
		delete(m.sessions, key)
		return nil, ErrNoSession
	}
	if optionIdx < 0 || optionIdx >= len(q.Options) {
		return nil, fmt.Errorf("option %d out of range for question with %d options", optionIdx, len(q.Options))
	}

	res := &Result{WasCorrect: q.Options[optionIdx].Correct}
	for _, opt := range q.Options {
		if opt.Correct {
			res.CorrectText = opt.Text
			break
		}
	}
	if res.WasCorrect {
		s.Correct++
	} else {
		s.Incorrect++
	}
	s.Index++

	res.Correct = s.Correct
	res.Incorrect = s.Incorrect
	res.Total = len(s.Questions)
	if s.Done() {
		res.Finished = true
		delete(m.sessions, key)
	}
	return res, nil
}

// Cancel drops the user's session. Returns ErrNoSession when nothing was
// running.
func (m *Manager) Cancel(userID, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(userID, chatID)
	if _, ok := m.sessions[key]; !ok {
		return ErrNoSession
	}
	delete(m.sessions, key)
	return nil
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
