package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&pgconn.PgError{Code: codeSerializationFailure}))
	assert.True(t, retryable(fmt.Errorf("insert: %w", &pgconn.PgError{Code: codeDeadlockDetected})))
	assert.False(t, retryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, retryable(errors.New("boom")))
	assert.False(t, retryable(nil))
}
