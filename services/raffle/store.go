package raffle

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"
)

// TokenHolding is the cumulative raw amount of one token deposited into a game.
type TokenHolding struct {
	Token  Address  `json:"token"`
	Amount *big.Int `json:"amount"`
	// Swapped is the payout output already received for Amount, nil while the
	// holding is unconverted.
	Swapped *big.Int `json:"swapped,omitempty"`
}

// ClaimableBalance is the payout-token amount a payee may withdraw from a game.
type ClaimableBalance struct {
	Payee  Address  `json:"payee"`
	Amount *big.Int `json:"amount"`
}

// GameSnapshot is the persisted form of a game.
type GameSnapshot struct {
	ID             uint64             `json:"id"`
	State          GameState          `json:"state"`
	StartedAt      time.Time          `json:"started_at"`
	Duration       time.Duration      `json:"duration"`
	PoolUSD        *big.Int           `json:"pool_usd"`
	Settled        bool               `json:"settled"`
	RequestID      RequestID          `json:"request_id,omitempty"`
	RandomWord     *big.Int           `json:"random_word"`
	Winner         Address            `json:"winner,omitempty"`
	TotalOut       *big.Int           `json:"total_out,omitempty"`
	PlatformAmount *big.Int           `json:"platform_amount,omitempty"`
	FounderAmount  *big.Int           `json:"founder_amount,omitempty"`
	WinnerAmount   *big.Int           `json:"winner_amount,omitempty"`
	SettledAt      time.Time          `json:"settled_at,omitempty"`
	Ranges         []WeightedRange    `json:"ranges"`
	Participants   []Address          `json:"participants"`
	Holdings       []TokenHolding     `json:"holdings"`
	Claimable      []ClaimableBalance `json:"claimable"`
}

func (g *Game) snapshot() GameSnapshot {
	snap := GameSnapshot{
		ID:           g.ID,
		State:        g.State,
		StartedAt:    g.StartedAt,
		Duration:     g.Duration,
		PoolUSD:      cloneInt(g.PoolUSD),
		Settled:      g.Settled,
		RequestID:    g.RequestID,
		RandomWord:   cloneInt(g.RandomWord),
		Winner:       g.Winner,
		SettledAt:    g.SettledAt,
		Ranges:       copyRanges(g.Ranges),
		Participants: append([]Address(nil), g.Participants...),
		Holdings:     g.holdingList(),
		Claimable:    g.claimableList(),
	}
	if g.TotalOut != nil {
		snap.TotalOut = cloneInt(g.TotalOut)
		snap.PlatformAmount = cloneInt(g.PlatformAmount)
		snap.FounderAmount = cloneInt(g.FounderAmount)
		snap.WinnerAmount = cloneInt(g.WinnerAmount)
	}
	return snap
}

func (g *Game) holdingList() []TokenHolding {
	out := make([]TokenHolding, 0, len(g.Tokens))
	for _, token := range g.Tokens {
		h := TokenHolding{Token: token, Amount: cloneInt(g.Holdings[token])}
		if swapped, ok := g.Swapped[token]; ok {
			h.Swapped = cloneInt(swapped)
		}
		out = append(out, h)
	}
	return out
}

func (g *Game) claimableList() []ClaimableBalance {
	out := make([]ClaimableBalance, 0, len(g.Claimable))
	for payee, amount := range g.Claimable {
		out = append(out, ClaimableBalance{Payee: payee, Amount: cloneInt(amount)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Payee < out[j].Payee })
	return out
}

func gameFromSnapshot(snap GameSnapshot) *Game {
	g := newGame(snap.ID, snap.StartedAt, snap.Duration)
	g.State = snap.State
	g.PoolUSD = cloneInt(snap.PoolUSD)
	g.Settled = snap.Settled
	g.RequestID = snap.RequestID
	g.RandomWord = cloneInt(snap.RandomWord)
	g.Winner = snap.Winner
	g.SettledAt = snap.SettledAt
	g.Ranges = copyRanges(snap.Ranges)
	for _, p := range snap.Participants {
		if !g.hasParticipant(p) {
			g.participants[p] = struct{}{}
			g.Participants = append(g.Participants, p)
		}
	}
	for _, h := range snap.Holdings {
		g.Tokens = append(g.Tokens, h.Token)
		g.Holdings[h.Token] = cloneInt(h.Amount)
		if h.Swapped != nil {
			g.Swapped[h.Token] = cloneInt(h.Swapped)
		}
	}
	for _, c := range snap.Claimable {
		g.Claimable[c.Payee] = cloneInt(c.Amount)
	}
	if snap.TotalOut != nil {
		g.TotalOut = cloneInt(snap.TotalOut)
		g.PlatformAmount = cloneInt(snap.PlatformAmount)
		g.FounderAmount = cloneInt(snap.FounderAmount)
		g.WinnerAmount = cloneInt(snap.WinnerAmount)
	}
	return g
}

// MemoryStore keeps snapshots in memory. It is the default Store.
type MemoryStore struct {
	mu    sync.RWMutex
	games map[uint64]GameSnapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{games: make(map[uint64]GameSnapshot)}
}

// SaveGame replaces the stored snapshot for the game.
func (s *MemoryStore) SaveGame(ctx context.Context, snap GameSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[snap.ID] = snap
	return nil
}

// LoadGames returns every snapshot ordered by game id.
func (s *MemoryStore) LoadGames(ctx context.Context) ([]GameSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]GameSnapshot, 0, len(s.games))
	for _, snap := range s.games {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
