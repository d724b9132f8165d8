package pgclient

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSQLCollapsesWhitespace(t *testing.T) {
	in := "SELECT  1,\n\t2\nFROM foo"
	assert.Equal(t, "SELECT 1, 2 FROM foo", normalizeSQL(in))
}

func TestQueryErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	qerr := &QueryError{Kind: ErrQueryError, Err: inner}
	assert.Equal(t, "boom", qerr.Error())
	assert.Same(t, inner, errors.Unwrap(qerr))
}

func TestClientDestroyIsIdempotentOnNilConn(t *testing.T) {
	// A Client with no underlying conn can't be fully exercised without
	// a live Postgres server, but Destroy's CAS guard must tolerate
	// being called more than once regardless.
	c := &Client{}
	assert.False(t, c.IsDestroyed())
	c.Destroy()
	c.Destroy()
	assert.True(t, c.IsDestroyed())
}
