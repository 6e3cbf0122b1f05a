package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesByKind(t *testing.T) {
	err := InvalidPhase("betting is closed for this round")

	assert.ErrorIs(t, err, ErrInvalidPhase)
	assert.NotErrorIs(t, err, ErrValidation)

	wrapped := fmt.Errorf("place bet: %w", err)
	assert.ErrorIs(t, wrapped, ErrInvalidPhase)
	assert.Equal(t, KindInvalidPhase, KindOf(wrapped))
}

func TestPersistence_HidesCause(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.4:5432: connection refused")
	err := Persistence("ledger unavailable", cause)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "ledger unavailable", PublicMessage(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPublicMessage_UnknownError(t *testing.T) {
	assert.Equal(t, "internal error", PublicMessage(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
}
