package raffle

import (
	"context"
	"math/big"
)

// PriceFeed returns the latest USD quote for one token.
type PriceFeed interface {
	LatestQuote(ctx context.Context) (Quote, error)
}

// PriceFeedFunc adapts a function to the PriceFeed interface.
type PriceFeedFunc func(ctx context.Context) (Quote, error)

// LatestQuote calls the underlying function.
func (f PriceFeedFunc) LatestQuote(ctx context.Context) (Quote, error) {
	return f(ctx)
}

// RandomnessService issues randomness requests. Fulfillment arrives later through
// Service.FulfillRandomWords from the coordinator identity.
type RandomnessService interface {
	RequestRandomWords(ctx context.Context, req DrawRequest) (RequestID, error)
}

// SwapRouter executes exact-input swaps. It must fail when the output would be
// below MinAmountOut or the deadline has passed.
type SwapRouter interface {
	ExactInputSingle(ctx context.Context, params SwapParams) (*big.Int, error)
}

// TokenVault moves tokens in and out of engine custody.
type TokenVault interface {
	TransferFrom(ctx context.Context, token, from, to Address, amount *big.Int) error
	Transfer(ctx context.Context, token, to Address, amount *big.Int) error
}

// Permitter optionally pre-authorizes a TransferFrom with an off-chain signature.
type Permitter interface {
	Permit(ctx context.Context, token, owner, spender Address, amount *big.Int, sig PermitSignature) error
}

// EventPublisher delivers engine notifications.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Store persists game snapshots so the arena can be rebuilt after a restart.
type Store interface {
	SaveGame(ctx context.Context, snap GameSnapshot) error
	LoadGames(ctx context.Context) ([]GameSnapshot, error)
}

// Recorder receives operational measurements. A nil Recorder is valid.
type Recorder interface {
	RecordDeposit(token string, usd *big.Int)
	RecordPool(gameID uint64, usd *big.Int)
	RecordDrawRequested()
	RecordFulfillment(err error)
	RecordSettlement(err error)
	RecordClaim(err error)
	RecordInvariantViolation()
	ObserveOperation(op string, err error, seconds float64)
}
