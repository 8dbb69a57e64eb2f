package raffle

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("finalize: %w", fmt.Errorf("%w: pool paused", ErrSwapFailed))
	assert.ErrorIs(t, wrapped, ErrSwapFailed)
	assert.Equal(t, KindExternal, KindOf(wrapped))
	assert.Equal(t, "SWAP_FAILED", CodeOf(wrapped))

	assert.Equal(t, KindAuth, KindOf(ErrUnauthorizedCallback))
	assert.Equal(t, KindInvariant, KindOf(ErrInvariantViolation))
	assert.Equal(t, KindNotFound, KindOf(ErrUnknownRequest))
	assert.Equal(t, KindPrecondition, KindOf(ErrDrawWindowOpen))

	plain := errors.New("boom")
	assert.Equal(t, Kind(""), KindOf(plain))
	assert.Equal(t, "INTERNAL", CodeOf(plain))
}

func TestErrorCodesAreDistinct(t *testing.T) {
	all := []*Error{
		ErrInvalidState, ErrDrawWindowOpen, ErrEmptyPool, ErrParticipantCap, ErrTokenNotAllowed,
		ErrDepositTooSmall, ErrInvalidAmount, ErrRandomNotReady, ErrAlreadySettled, ErrGameNotSettled,
		ErrNothingToClaim, ErrFeeTooHigh, ErrNoRandomWords, ErrDuplicateRequest, ErrReentrantCall,
		ErrInvalidConfig, ErrInvalidAddress, ErrUnknownRequest, ErrGameNotFound, ErrNoGame,
		ErrUnauthorized, ErrUnauthorizedCallback, ErrStalePrice, ErrPriceFeed, ErrSwapFailed,
		ErrSlippage, ErrTransferFailed, ErrRandomnessFailed, ErrInvariantViolation,
	}
	seen := map[string]bool{}
	for _, e := range all {
		assert.False(t, seen[e.Code], "duplicate code %s", e.Code)
		seen[e.Code] = true
		assert.NotEmpty(t, e.Kind)
	}
}
