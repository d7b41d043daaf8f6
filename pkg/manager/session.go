package manager

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kasuboski/amnis/pkg/machine"
)

type SessionStatus string

const (
	SessionQueued    SessionStatus = "queued"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Session is the live state of one inbound transfer. Completed and Failed
// are terminal.
type Session struct {
	ID             uuid.UUID
	Filename       string
	SourcePeer     string
	ExpectedLength *int64
	StartedAt      time.Time

	bytesWritten   atomic.Int64
	resumeAttempts atomic.Int32

	mu    sync.Mutex
	state *machine.StateMachine[SessionStatus]
}

func newSession(filename, peer string, length *int64) *Session {
	return &Session{
		ID:             uuid.New(),
		Filename:       filename,
		SourcePeer:     peer,
		ExpectedLength: length,
		StartedAt:      time.Now(),
		state: machine.New(SessionQueued,
			machine.From(SessionQueued).To(SessionActive, SessionCompleted, SessionFailed),
			machine.From(SessionActive).To(SessionActive, SessionCompleted, SessionFailed),
		),
	}
}

func (s *Session) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Current()
}

func (s *Session) transition(to SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Transition(to)
}

// BytesWritten is how much of the file is on disk, including bytes from
// earlier attempts.
func (s *Session) BytesWritten() int64 {
	return s.bytesWritten.Load()
}

func (s *Session) ResumeAttempts() int {
	return int(s.resumeAttempts.Load())
}

// complete reports whether the bytes on disk cover the declared length. An
// undeclared length is never complete by size alone.
func (s *Session) complete() bool {
	return s.ExpectedLength != nil && s.bytesWritten.Load() >= *s.ExpectedLength
}

// SessionView is a point in time copy of a Session, safe to hand out.
type SessionView struct {
	ID             string        `json:"id"`
	Filename       string        `json:"filename"`
	SourcePeer     string        `json:"source"`
	Status         SessionStatus `json:"status"`
	BytesWritten   int64         `json:"bytesWritten"`
	ExpectedLength *int64        `json:"expectedLength,omitempty"`
	ResumeAttempts int           `json:"resumeAttempts"`
	StartedAt      time.Time     `json:"startedAt"`
}

func (s *Session) View() SessionView {
	return SessionView{
		ID:             s.ID.String(),
		Filename:       s.Filename,
		SourcePeer:     s.SourcePeer,
		Status:         s.Status(),
		BytesWritten:   s.BytesWritten(),
		ExpectedLength: s.ExpectedLength,
		ResumeAttempts: s.ResumeAttempts(),
		StartedAt:      s.StartedAt,
	}
}

// countingWriter tracks bytes as they reach the file.
type countingWriter struct {
	w       io.Writer
	session *Session
}

func (c countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.session.bytesWritten.Add(int64(n))
	return n, err
}
