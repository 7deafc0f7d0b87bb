package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRFTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewCSRFManager("csrf-secret")
	sess := &Session{ID: "s1"}

	token, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	again, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.NoError(t, m.VerifyToken(ctx, sess, token))
	assert.ErrorIs(t, m.VerifyToken(ctx, sess, ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, m.VerifyToken(ctx, sess, token+"x"), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, m.VerifyToken(ctx, &Session{ID: "s2"}, token), ErrCSRFTokenMissing)
	assert.ErrorIs(t, m.VerifyToken(ctx, nil, token), ErrCSRFTokenMissing)

	_, err = m.EnsureToken(ctx, nil)
	assert.ErrorIs(t, err, ErrSessionMissing)
}

func TestCSRFTokenBoundToSessionID(t *testing.T) {
	ctx := context.Background()
	m := NewCSRFManager("csrf-secret")
	sess := &Session{ID: "before"}
	token, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)

	// A stored token copied into another session id no longer verifies.
	sess.ID = "after"
	assert.ErrorIs(t, m.VerifyToken(ctx, sess, token), ErrCSRFTokenMismatch)

	fresh, err := m.EnsureToken(ctx, sess)
	require.NoError(t, err)
	assert.NotEqual(t, token, fresh)
	assert.NoError(t, m.VerifyToken(ctx, sess, fresh))

	other := NewCSRFManager("different-secret")
	assert.ErrorIs(t, other.VerifyToken(ctx, sess, fresh), ErrCSRFTokenMismatch)
}
