package write

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

var (
	// ErrSessionClosed is returned when a committed or aborted session is used.
	ErrSessionClosed = errors.New("transactional session is closed")

	// ErrSessionAborted is the failure queued by Abort so the session
	// always rolls back.
	ErrSessionAborted = errors.New("transactional session aborted")
)

// SessionState is the lifecycle state of a Session.
type SessionState int

const (
	// SessionOpen accepts statements.
	SessionOpen SessionState = iota
	// SessionCommitting is draining towards a commit.
	SessionCommitting
	// SessionAborting is draining towards a rollback.
	SessionAborting
	// SessionClosed is terminal.
	SessionClosed
)

// String returns the state name.
func (s SessionState) String() string {
	switch s {
	case SessionOpen:
		return "open"
	case SessionCommitting:
		return "committing"
	case SessionAborting:
		return "aborting"
	case SessionClosed:
		return "closed"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// Session wraps one transaction. Statements run in submission order and
// their outcomes are queued until Commit or Abort decides the transaction.
type Session struct {
	id     string
	tx     core.Transaction
	logger *slog.Logger

	mu         sync.Mutex
	state      SessionState
	results    []error
	savepoints int
}

// NewSession begins a transaction on db.
func NewSession(ctx context.Context, db core.Database, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transactional session: %w", err)
	}
	s := &Session{
		id:     uuid.NewString(),
		tx:     tx,
		state:  SessionOpen,
		logger: logger.With("component", "session"),
	}
	s.logger.Debug("session opened", "session_id", s.id)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the number of queued statement outcomes.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Query runs a statement on the session transaction.
func (s *Session) Query(ctx context.Context, sql string, args ...any) ([]core.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionOpen {
		return nil, ErrSessionClosed
	}
	rows, err := s.tx.Query(ctx, sql, args...)
	s.results = append(s.results, err)
	return rows, err
}

// Exec runs a statement on the session transaction.
func (s *Session) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionOpen {
		return 0, ErrSessionClosed
	}
	n, err := s.tx.Exec(ctx, sql, args...)
	s.results = append(s.results, err)
	return n, err
}

// Batch submits statements on the session transaction.
func (s *Session) Batch(ctx context.Context, stmts []core.Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionOpen {
		return ErrSessionClosed
	}
	err := s.tx.Batch(ctx, stmts)
	s.results = append(s.results, err)
	return err
}

// Commit commits the transaction, or rolls it back and returns the first
// queued failure when any statement failed.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionOpen {
		return ErrSessionClosed
	}
	s.state = SessionCommitting
	defer func() { s.state = SessionClosed }()

	if err := s.firstFailure(); err != nil {
		if rbErr := s.tx.Rollback(ctx); rbErr != nil {
			s.logger.Warn("rollback failed", "session_id", s.id, "error", rbErr)
		}
		return err
	}
	if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transactional session: %w", err)
	}
	s.logger.Debug("session committed", "session_id", s.id, "statements", len(s.results))
	return nil
}

// Abort rolls the transaction back.
func (s *Session) Abort(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionOpen {
		return ErrSessionClosed
	}
	s.state = SessionAborting
	defer func() { s.state = SessionClosed }()

	s.results = append(s.results, ErrSessionAborted)
	if err := s.tx.Rollback(ctx); err != nil {
		return fmt.Errorf("failed to abort transactional session: %w", err)
	}
	s.logger.Debug("session aborted", "session_id", s.id, "statements", len(s.results)-1)
	return nil
}

// Savepoint runs fn inside a savepoint. When fn fails the transaction is
// rolled back to the savepoint and the statements fn queued are discarded,
// so the session stays usable and a later Commit is not failed by them.
func (s *Session) Savepoint(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	if s.state != SessionOpen {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.savepoints++
	name := fmt.Sprintf("docbridge_sp_%d", s.savepoints)
	if _, err := s.tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		s.results = append(s.results, err)
		s.mu.Unlock()
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	mark := len(s.results)
	s.mu.Unlock()

	fnErr := fn()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionOpen {
		return errors.Join(fnErr, ErrSessionClosed)
	}
	if fnErr != nil {
		if _, err := s.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
			s.results = append(s.results, err)
			return errors.Join(fnErr, fmt.Errorf("failed to roll back to savepoint: %w", err))
		}
		s.results = s.results[:mark]
		return fnErr
	}
	if _, err := s.tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		s.results = append(s.results, err)
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func (s *Session) firstFailure() error {
	for _, err := range s.results {
		if err != nil {
			return err
		}
	}
	return nil
}

type sessionKey struct{}

// WithSession returns a context whose writes join s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session carried by ctx, if any.
func SessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}

// QuerierFor returns the session carried by ctx, or db when there is none.
func QuerierFor(ctx context.Context, db core.Querier) core.Querier {
	if s, ok := SessionFrom(ctx); ok {
		return s
	}
	return db
}
