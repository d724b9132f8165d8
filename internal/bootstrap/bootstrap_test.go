package bootstrap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePgError struct{ state string }

func (e *fakePgError) Error() string    { return "pg error " + e.state }
func (e *fakePgError) SQLState() string { return e.state }

func TestIsAlreadyExistsMatchesDuplicateObjectSQLState(t *testing.T) {
	assert.True(t, isAlreadyExists(&fakePgError{state: "42710"}))
}

func TestIsAlreadyExistsRejectsOtherSQLStates(t *testing.T) {
	assert.False(t, isAlreadyExists(&fakePgError{state: "42601"}))
}

func TestIsAlreadyExistsRejectsNonPgErrors(t *testing.T) {
	assert.False(t, isAlreadyExists(errors.New("plain error")))
}

func TestErrPostgresInRecoveryIsDistinctSentinel(t *testing.T) {
	assert.True(t, errors.Is(ErrPostgresInRecovery, ErrPostgresInRecovery))
	assert.NotEqual(t, ErrPostgresInRecovery.Error(), "")
}
