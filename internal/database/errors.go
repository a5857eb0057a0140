package database

import (
	"errors"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

// postgresCodes maps SQLSTATE codes to their meaning.
var postgresCodes = map[string]core.BackendKind{
	"42P01": core.BackendRelationMissing,
	"42P07": core.BackendDuplicateRelation,
	"42701": core.BackendDuplicateColumn,
	"42703": core.BackendColumnMissing,
	"23505": core.BackendUniqueViolation,
	"42710": core.BackendDuplicateObject,
}

// mysqlCodes maps MySQL server error numbers to their meaning.
var mysqlCodes = map[uint16]core.BackendKind{
	1146: core.BackendRelationMissing,
	1050: core.BackendDuplicateRelation,
	1060: core.BackendDuplicateColumn,
	1054: core.BackendColumnMissing,
	1062: core.BackendUniqueViolation,
	1061: core.BackendDuplicateObject,
}

// PostgresClassifier translates *pgconn.PgError.
type PostgresClassifier struct{}

// Classify implements core.ErrorClassifier.
func (PostgresClassifier) Classify(err error) (core.BackendError, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return core.BackendError{}, false
	}
	return core.BackendError{
		Kind:       postgresCodes[pgErr.Code],
		Code:       pgErr.Code,
		Message:    pgErr.Message,
		Detail:     pgErr.Detail,
		Constraint: pgErr.ConstraintName,
	}, true
}

// MySQLClassifier translates *mysql.MySQLError.
type MySQLClassifier struct{}

// Classify implements core.ErrorClassifier.
func (MySQLClassifier) Classify(err error) (core.BackendError, bool) {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return core.BackendError{}, false
	}
	return core.BackendError{
		Kind:    mysqlCodes[myErr.Number],
		Code:    strconv.Itoa(int(myErr.Number)),
		Message: myErr.Message,
	}, true
}

// Classifier chains backend tables; the first table that recognizes an
// error wins.
type Classifier struct {
	tables []core.ErrorClassifier
}

// NewClassifier returns a classifier over the given tables. With no
// tables it recognizes Postgres and MySQL errors.
func NewClassifier(tables ...core.ErrorClassifier) *Classifier {
	if len(tables) == 0 {
		tables = []core.ErrorClassifier{PostgresClassifier{}, MySQLClassifier{}}
	}
	return &Classifier{tables: tables}
}

// Classify implements core.ErrorClassifier.
func (c *Classifier) Classify(err error) (core.BackendError, bool) {
	if err == nil {
		return core.BackendError{}, false
	}
	for _, t := range c.tables {
		if be, ok := t.Classify(err); ok {
			return be, true
		}
	}
	return core.BackendError{}, false
}

// Kind returns the translated kind of err, or core.BackendUnknown.
func (c *Classifier) Kind(err error) core.BackendKind {
	be, ok := c.Classify(err)
	if !ok {
		return core.BackendUnknown
	}
	return be.Kind
}

// Is reports whether err translates to kind.
func (c *Classifier) Is(err error, kind core.BackendKind) bool {
	return kind != core.BackendUnknown && c.Kind(err) == kind
}
