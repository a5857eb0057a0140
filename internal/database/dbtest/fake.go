// Package dbtest provides a scripted core.Database for tests.
package dbtest

import (
	"context"
	"strings"
	"sync"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

// Call records one statement the fake received.
type Call struct {
	// Kind is "query", "exec" or "batch".
	Kind string

	// SQL is the statement text.
	SQL string

	// Args are the bound values.
	Args []any

	// InTx reports whether the statement ran inside a transaction.
	InTx bool
}

// Response is the scripted outcome of a matching statement.
type Response struct {
	Rows     []core.Row
	Affected int64
	Err      error
}

type rule struct {
	match string
	resp  Response
	once  bool
	used  bool
}

// DB is an in-memory core.Database that records statements and answers
// them from scripted rules. The first rule whose text is contained in the
// statement wins; one-shot rules are consulted before permanent ones.
type DB struct {
	mu        sync.Mutex
	rules     []*rule
	calls     []Call
	begun     int
	committed int
	rolled    int
	closed    bool
	beginErr  error
}

var _ core.Database = (*DB)(nil)

// New returns an empty fake.
func New() *DB {
	return &DB{}
}

// On answers every statement containing match with resp.
func (d *DB) On(match string, resp Response) *DB {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = append(d.rules, &rule{match: match, resp: resp})
	return d
}

// Once answers the next statement containing match with resp.
func (d *DB) Once(match string, resp Response) *DB {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = append(d.rules, &rule{match: match, resp: resp, once: true})
	return d
}

// FailBegin makes BeginTx fail with err.
func (d *DB) FailBegin(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beginErr = err
}

func (d *DB) respond(kind, sql string, args []any, inTx bool) Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Kind: kind, SQL: sql, Args: args, InTx: inTx})
	for _, r := range d.rules {
		if r.once && !r.used && strings.Contains(sql, r.match) {
			r.used = true
			return r.resp
		}
	}
	for _, r := range d.rules {
		if !r.once && strings.Contains(sql, r.match) {
			return r.resp
		}
	}
	return Response{}
}

// Calls returns every recorded statement.
func (d *DB) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// SQL returns the text of every recorded statement.
func (d *DB) SQL() []string {
	calls := d.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.SQL
	}
	return out
}

// Find returns the first recorded statement containing match.
func (d *DB) Find(match string) (Call, bool) {
	for _, c := range d.Calls() {
		if strings.Contains(c.SQL, match) {
			return c, true
		}
	}
	return Call{}, false
}

// Reset forgets recorded statements but keeps the rules.
func (d *DB) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// TxCounts returns how many transactions were begun, committed and rolled back.
func (d *DB) TxCounts() (begun, committed, rolledBack int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.begun, d.committed, d.rolled
}

// Closed reports whether Close was called.
func (d *DB) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Query implements core.Querier.
func (d *DB) Query(_ context.Context, sql string, args ...any) ([]core.Row, error) {
	r := d.respond("query", sql, args, false)
	return r.Rows, r.Err
}

// Exec implements core.Querier.
func (d *DB) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	r := d.respond("exec", sql, args, false)
	return r.Affected, r.Err
}

// Batch implements core.Database.
func (d *DB) Batch(_ context.Context, stmts []core.Statement) error {
	return d.batch(stmts, false)
}

func (d *DB) batch(stmts []core.Statement, inTx bool) error {
	var firstErr error
	for _, s := range stmts {
		if r := d.respond("batch", s.SQL, s.Args, inTx); r.Err != nil && firstErr == nil {
			firstErr = r.Err
		}
	}
	return firstErr
}

// BeginTx implements core.Database.
func (d *DB) BeginTx(context.Context) (core.Transaction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	d.begun++
	return &Tx{db: d}, nil
}

// Close implements core.Database.
func (d *DB) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

// Tx is a fake transaction sharing its parent's rules and recording.
type Tx struct {
	db   *DB
	done bool
}

// Query implements core.Querier.
func (t *Tx) Query(_ context.Context, sql string, args ...any) ([]core.Row, error) {
	r := t.db.respond("query", sql, args, true)
	return r.Rows, r.Err
}

// Exec implements core.Querier.
func (t *Tx) Exec(_ context.Context, sql string, args ...any) (int64, error) {
	r := t.db.respond("exec", sql, args, true)
	return r.Affected, r.Err
}

// Batch implements core.Transaction.
func (t *Tx) Batch(_ context.Context, stmts []core.Statement) error {
	return t.db.batch(stmts, true)
}

// Commit implements core.Transaction.
func (t *Tx) Commit(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if !t.done {
		t.done = true
		t.db.committed++
	}
	return nil
}

// Rollback implements core.Transaction.
func (t *Tx) Rollback(context.Context) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if !t.done {
		t.done = true
		t.db.rolled++
	}
	return nil
}
