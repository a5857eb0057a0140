package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzpsarthak13/docbridge/internal/core"
)

func TestClassifier_Postgres(t *testing.T) {
	c := NewClassifier()
	tests := []struct {
		code string
		kind core.BackendKind
	}{
		{"42P01", core.BackendRelationMissing},
		{"42P07", core.BackendDuplicateRelation},
		{"42701", core.BackendDuplicateColumn},
		{"42703", core.BackendColumnMissing},
		{"23505", core.BackendUniqueViolation},
		{"42710", core.BackendDuplicateObject},
		{"22P02", core.BackendUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := fmt.Errorf("failed to execute: %w", &pgconn.PgError{Code: tt.code, ConstraintName: "c", Detail: "d"})
			be, ok := c.Classify(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, be.Kind)
			assert.Equal(t, tt.code, be.Code)
			assert.Equal(t, "c", be.Constraint)
			assert.Equal(t, "d", be.Detail)
			assert.Equal(t, tt.kind != core.BackendUnknown, c.Is(err, tt.kind))
		})
	}
}

func TestClassifier_MySQL(t *testing.T) {
	c := NewClassifier()
	tests := []struct {
		number uint16
		kind   core.BackendKind
	}{
		{1146, core.BackendRelationMissing},
		{1050, core.BackendDuplicateRelation},
		{1060, core.BackendDuplicateColumn},
		{1054, core.BackendColumnMissing},
		{1062, core.BackendUniqueViolation},
		{1061, core.BackendDuplicateObject},
	}
	for _, tt := range tests {
		be, ok := c.Classify(&mysql.MySQLError{Number: tt.number, Message: "m"})
		require.True(t, ok)
		assert.Equal(t, tt.kind, be.Kind)
		assert.Equal(t, "m", be.Message)
	}
}

func TestClassifier_Unrecognized(t *testing.T) {
	c := NewClassifier()
	_, ok := c.Classify(errors.New("plain"))
	assert.False(t, ok)
	_, ok = c.Classify(nil)
	assert.False(t, ok)
	assert.Equal(t, core.BackendUnknown, c.Kind(errors.New("plain")))
	assert.False(t, c.Is(errors.New("plain"), core.BackendUnknown))

	pgOnly := NewClassifier(PostgresClassifier{})
	_, ok = pgOnly.Classify(&mysql.MySQLError{Number: 1146})
	assert.False(t, ok)
}
