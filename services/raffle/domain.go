// Package raffle implements a weighted, pooled raffle engine.
//
// Depositors contribute allow-listed tokens to the current game. Each deposit is
// priced in USD and appended as a range of the game's pool, so a single random
// word picks a winner with probability equal to their share of the pool. Once a
// winner is drawn the pooled tokens are swapped into the payout token and split
// between the winner and two fee recipients, who withdraw their share with Claim.
package raffle

import (
	"math/big"
	"strings"
	"time"
)

// Address identifies a participant, token, or collaborator.
type Address string

// Normalize returns the canonical lower-case form of the address.
func (a Address) Normalize() Address {
	return Address(strings.ToLower(strings.TrimSpace(string(a))))
}

// IsZero reports whether the address is empty.
func (a Address) IsZero() bool {
	return strings.TrimSpace(string(a)) == ""
}

// RequestID is the opaque identifier assigned by the randomness service.
type RequestID string

// GameState represents the lifecycle state of a game.
type GameState string

const (
	GameStateOpen            GameState = "open"
	GameStateRandomRequested GameState = "random_requested"
	GameStateWinnerSelected  GameState = "winner_selected"
	GameStateSettled         GameState = "settled"
)

// USDDecimals is the fixed-point precision of every USD value in the engine.
const USDDecimals = 18

// BasisPoints is the denominator for fee and slippage ratios.
const BasisPoints = 10_000

// Policy defaults.
const (
	DefaultFreshnessWindow   = time.Hour
	DefaultMinOutBps         = 9_500
	DefaultMaxCombinedFeeBps = 2_000
	DefaultFeeTier           = 3_000
	DefaultTokenDecimals     = 18
	DefaultMaxParticipants   = 100
	DefaultGameDuration      = 24 * time.Hour
	DefaultConfirmations     = 3
	DefaultCallbackGasLimit  = 500_000
)

// WeightedRange is one deposit's slice [Start, End) of the game's pool.
type WeightedRange struct {
	Depositor Address  `json:"depositor"`
	Token     Address  `json:"token"`
	Start     *big.Int `json:"start"`
	End       *big.Int `json:"end"`
}

// Width returns End - Start.
func (r WeightedRange) Width() *big.Int {
	return new(big.Int).Sub(r.End, r.Start)
}

// Contains reports whether start <= point < end.
func (r WeightedRange) Contains(point *big.Int) bool {
	return r.Start.Cmp(point) <= 0 && point.Cmp(r.End) < 0
}

// Game is one raffle round. Only the engine mutates it.
type Game struct {
	ID         uint64
	State      GameState
	StartedAt  time.Time
	Duration   time.Duration
	PoolUSD    *big.Int
	Settled    bool
	RequestID  RequestID
	RandomWord *big.Int

	Ranges       []WeightedRange
	Participants []Address
	participants map[Address]struct{}
	Tokens       []Address
	Holdings     map[Address]*big.Int
	// Swapped records the payout output of holdings already converted by an
	// unfinished settlement.
	Swapped map[Address]*big.Int

	Winner         Address
	TotalOut       *big.Int
	PlatformAmount *big.Int
	FounderAmount  *big.Int
	WinnerAmount   *big.Int
	SettledAt      time.Time

	Claimable map[Address]*big.Int
}

func newGame(id uint64, startedAt time.Time, duration time.Duration) *Game {
	return &Game{
		ID:           id,
		State:        GameStateOpen,
		StartedAt:    startedAt,
		Duration:     duration,
		PoolUSD:      new(big.Int),
		RandomWord:   new(big.Int),
		participants: make(map[Address]struct{}),
		Holdings:     make(map[Address]*big.Int),
		Swapped:      make(map[Address]*big.Int),
		Claimable:    make(map[Address]*big.Int),
	}
}

// DrawDue reports whether the deposit window has elapsed at now.
func (g *Game) DrawDue(now time.Time) bool {
	return now.Sub(g.StartedAt) >= g.Duration
}

// TokenConfig binds an allow-listed token to its price feed.
type TokenConfig struct {
	Feed     PriceFeed
	Decimals uint8
}

// Quote is a price feed observation.
type Quote struct {
	Price     *big.Int
	UpdatedAt time.Time
	Decimals  uint8
}

// DrawConfig is the fixed randomness request configuration.
type DrawConfig struct {
	KeyHash          string `json:"key_hash" yaml:"key_hash"`
	Confirmations    uint16 `json:"confirmations" yaml:"confirmations"`
	CallbackGasLimit uint32 `json:"callback_gas_limit" yaml:"callback_gas_limit"`
}

// DrawRequest is sent to the randomness service.
type DrawRequest struct {
	GameID           uint64
	KeyHash          string
	Confirmations    uint16
	CallbackGasLimit uint32
	NumWords         uint32
	Callback         Address
}

// SwapParams describes an exact-input swap.
type SwapParams struct {
	TokenIn      Address
	TokenOut     Address
	FeeTier      uint32
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Deadline     time.Time
	Recipient    Address
}

// PermitSignature is an off-chain approval used for the optional pre-authorization.
type PermitSignature struct {
	Deadline time.Time `json:"deadline"`
	V        uint8     `json:"v"`
	R        string    `json:"r"`
	S        string    `json:"s"`
}

// DepositRequest describes one deposit into the current game.
type DepositRequest struct {
	Depositor Address
	Token     Address
	Amount    *big.Int
	Permit    *PermitSignature
}

// Settlement is the outcome of finalizing a game.
type Settlement struct {
	GameID         uint64    `json:"game_id"`
	Winner         Address   `json:"winner"`
	WinningPoint   *big.Int  `json:"winning_point"`
	TotalOut       *big.Int  `json:"total_out"`
	PlatformAmount *big.Int  `json:"platform_amount"`
	FounderAmount  *big.Int  `json:"founder_amount"`
	WinnerAmount   *big.Int  `json:"winner_amount"`
	SettledAt      time.Time `json:"settled_at"`
}

// GameView is a read-only copy of a game's scalar state.
type GameView struct {
	ID               uint64        `json:"id"`
	State            GameState     `json:"state"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	PoolUSD          *big.Int      `json:"pool_usd"`
	Settled          bool          `json:"settled"`
	ParticipantCount int           `json:"participant_count"`
	DepositCount     int           `json:"deposit_count"`
	RequestID        RequestID     `json:"request_id,omitempty"`
	RandomWord       *big.Int      `json:"random_word"`
	Winner           Address       `json:"winner,omitempty"`
	TotalOut         *big.Int      `json:"total_out"`
	SettledAt        time.Time     `json:"settled_at,omitempty"`
}

// Stats summarises engine activity across games.
type Stats struct {
	TotalGames        uint64   `json:"total_games"`
	SettledGames      uint64   `json:"settled_games"`
	CurrentGameID     uint64   `json:"current_game_id"`
	CurrentPoolUSD    *big.Int `json:"current_pool_usd"`
	TotalDepositedUSD *big.Int `json:"total_deposited_usd"`
	TotalPaidOut      *big.Int `json:"total_paid_out"`
}

func (g *Game) view() GameView {
	return GameView{
		ID:               g.ID,
		State:            g.State,
		StartedAt:        g.StartedAt,
		Duration:         g.Duration,
		PoolUSD:          cloneInt(g.PoolUSD),
		Settled:          g.Settled,
		ParticipantCount: len(g.Participants),
		DepositCount:     len(g.Ranges),
		RequestID:        g.RequestID,
		RandomWord:       cloneInt(g.RandomWord),
		Winner:           g.Winner,
		TotalOut:         cloneInt(g.TotalOut),
		SettledAt:        g.SettledAt,
	}
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
