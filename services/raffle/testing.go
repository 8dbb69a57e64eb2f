package raffle

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StaticPriceFeed returns a fixed quote. UpdatedAt defaults to the time of the call.
type StaticPriceFeed struct {
	mu        sync.RWMutex
	price     *big.Int
	decimals  uint8
	updatedAt time.Time
	err       error
}

// NewStaticPriceFeed returns a feed quoting price with the given decimals.
func NewStaticPriceFeed(price *big.Int, decimals uint8) *StaticPriceFeed {
	return &StaticPriceFeed{price: new(big.Int).Set(price), decimals: decimals}
}

// Set replaces the quoted price and its timestamp. A zero time means "now".
func (f *StaticPriceFeed) Set(price *big.Int, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = new(big.Int).Set(price)
	f.updatedAt = updatedAt
}

// Touch moves the quote timestamp to at without changing the price.
func (f *StaticPriceFeed) Touch(at time.Time) {
	f.mu.Lock()
	f.updatedAt = at
	f.mu.Unlock()
}

// Fail makes every subsequent read return err. A nil err clears it.
func (f *StaticPriceFeed) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *StaticPriceFeed) LatestQuote(ctx context.Context) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return Quote{}, f.err
	}
	updated := f.updatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return Quote{Price: new(big.Int).Set(f.price), UpdatedAt: updated, Decimals: f.decimals}, nil
}

// LocalCoordinator is an in-process randomness service. Requests are queued
// and delivered later, from the coordinator identity, by FulfillPending or Deliver.
type LocalCoordinator struct {
	mu       sync.Mutex
	identity Address
	pending  []DrawRequestRecord
	err      error
}

// DrawRequestRecord is a request held by LocalCoordinator.
type DrawRequestRecord struct {
	ID      RequestID
	Request DrawRequest
}

// NewLocalCoordinator returns a coordinator that calls back as identity.
func NewLocalCoordinator(identity Address) *LocalCoordinator {
	return &LocalCoordinator{identity: identity.Normalize()}
}

// Identity is the caller address used for fulfillments.
func (c *LocalCoordinator) Identity() Address { return c.identity }

// Fail makes subsequent requests return err. A nil err clears it.
func (c *LocalCoordinator) Fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *LocalCoordinator) RequestRandomWords(ctx context.Context, req DrawRequest) (RequestID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	id := RequestID(uuid.NewString())
	c.pending = append(c.pending, DrawRequestRecord{ID: id, Request: req})
	return id, nil
}

// Pending returns the queued requests.
func (c *LocalCoordinator) Pending() []DrawRequestRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DrawRequestRecord(nil), c.pending...)
}

// Deliver fulfills one queued request with the given words.
func (c *LocalCoordinator) Deliver(ctx context.Context, svc *Service, id RequestID, words ...*big.Int) error {
	c.mu.Lock()
	for i, rec := range c.pending {
		if rec.ID == id {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	return svc.FulfillRandomWords(ctx, c.identity, id, words)
}

// FulfillPending delivers a cryptographically random word to every queued
// request and returns how many were accepted.
func (c *LocalCoordinator) FulfillPending(ctx context.Context, svc *Service) (int, error) {
	c.mu.Lock()
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()

	delivered := 0
	for _, rec := range queued {
		word, err := randomWord()
		if err != nil {
			return delivered, err
		}
		if err := svc.FulfillRandomWords(ctx, c.identity, rec.ID, []*big.Int{word}); err != nil {
			return delivered, fmt.Errorf("fulfill %s: %w", rec.ID, err)
		}
		delivered++
	}
	return delivered, nil
}

// randomWord returns a non-zero 256-bit word.
func randomWord() (*big.Int, error) {
	buf := make([]byte, 32)
	for {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("read randomness: %w", err)
		}
		if word := new(big.Int).SetBytes(buf); word.Sign() > 0 {
			return word, nil
		}
	}
}

// Rate is an output/input ratio.
type Rate struct {
	Num int64 `yaml:"num" json:"num"`
	Den int64 `yaml:"den" json:"den"`
}

// FixedRateRouter swaps at fixed per-token rates. When a vault is attached the
// swap moves balances held by the recipient.
type FixedRateRouter struct {
	mu    sync.Mutex
	rates map[Address]Rate
	vault *MemoryVault
	err   error
	calls []SwapParams
}

// NewFixedRateRouter returns a router with no rates; unknown tokens swap 1:1.
func NewFixedRateRouter(vault *MemoryVault) *FixedRateRouter {
	return &FixedRateRouter{rates: make(map[Address]Rate), vault: vault}
}

// SetRate fixes the output of swapping token into any payout token.
func (r *FixedRateRouter) SetRate(token Address, rate Rate) {
	r.mu.Lock()
	r.rates[token.Normalize()] = rate
	r.mu.Unlock()
}

// Fail makes every subsequent swap return err. A nil err clears it.
func (r *FixedRateRouter) Fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Calls returns the swaps executed so far.
func (r *FixedRateRouter) Calls() []SwapParams {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SwapParams(nil), r.calls...)
}

func (r *FixedRateRouter) ExactInputSingle(ctx context.Context, params SwapParams) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	rate, ok := r.rates[params.TokenIn]
	if !ok {
		rate = Rate{Num: 1, Den: 1}
	}
	out := new(big.Int).Mul(params.AmountIn, big.NewInt(rate.Num))
	out.Quo(out, big.NewInt(rate.Den))
	if params.MinAmountOut != nil && out.Cmp(params.MinAmountOut) < 0 {
		return nil, fmt.Errorf("too little received: %s < %s", out, params.MinAmountOut)
	}
	if r.vault != nil {
		if err := r.vault.move(params.TokenIn, params.Recipient, "", params.AmountIn); err != nil {
			return nil, err
		}
		r.vault.Mint(params.TokenOut, params.Recipient, out)
	}
	r.calls = append(r.calls, params)
	return out, nil
}

// MemoryVault is an in-memory token ledger acting as custody for one engine
// account. It also accepts permits.
type MemoryVault struct {
	mu       sync.Mutex
	engine   Address
	balances map[Address]map[Address]*big.Int
	permits  []PermitSignature

	// OnTransfer runs before a Transfer moves funds. A non-nil error aborts it.
	OnTransfer func(ctx context.Context, token, to Address, amount *big.Int) error
	// PermitErr is returned by every Permit call when set.
	PermitErr error
	// TransferErr is returned by every Transfer call when set.
	TransferErr error
}

// NewMemoryVault returns an empty vault whose custody account is engine.
func NewMemoryVault(engine Address) *MemoryVault {
	return &MemoryVault{
		engine:   engine.Normalize(),
		balances: make(map[Address]map[Address]*big.Int),
	}
}

// Mint credits amount of token to owner.
func (v *MemoryVault) Mint(token, owner Address, amount *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.credit(token.Normalize(), owner.Normalize(), amount)
}

// BalanceOf returns owner's balance of token.
func (v *MemoryVault) BalanceOf(token, owner Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return cloneInt(v.balances[token.Normalize()][owner.Normalize()])
}

// Permits returns the permits accepted so far.
func (v *MemoryVault) Permits() []PermitSignature {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]PermitSignature(nil), v.permits...)
}

func (v *MemoryVault) TransferFrom(ctx context.Context, token, from, to Address, amount *big.Int) error {
	return v.move(token, from, to, amount)
}

func (v *MemoryVault) Transfer(ctx context.Context, token, to Address, amount *big.Int) error {
	if v.OnTransfer != nil {
		if err := v.OnTransfer(ctx, token, to, amount); err != nil {
			return err
		}
	}
	if v.TransferErr != nil {
		return v.TransferErr
	}
	return v.move(token, v.engine, to, amount)
}

func (v *MemoryVault) Permit(ctx context.Context, token, owner, spender Address, amount *big.Int, sig PermitSignature) error {
	if v.PermitErr != nil {
		return v.PermitErr
	}
	if !sig.Deadline.IsZero() && time.Now().After(sig.Deadline) {
		return fmt.Errorf("permit expired at %s", sig.Deadline.Format(time.RFC3339))
	}
	v.mu.Lock()
	v.permits = append(v.permits, sig)
	v.mu.Unlock()
	return nil
}

// move debits from and credits to. An empty to burns the amount.
func (v *MemoryVault) move(token, from, to Address, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	token, from, to = token.Normalize(), from.Normalize(), to.Normalize()
	held := v.balances[token][from]
	if held == nil || held.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient %s balance for %s: have %v, need %s", token, from, held, amount)
	}
	held.Sub(held, amount)
	if to != "" {
		v.credit(token, to, amount)
	}
	return nil
}

func (v *MemoryVault) credit(token, owner Address, amount *big.Int) {
	byOwner, ok := v.balances[token]
	if !ok {
		byOwner = make(map[Address]*big.Int)
		v.balances[token] = byOwner
	}
	if held, ok := byOwner[owner]; ok {
		held.Add(held, amount)
		return
	}
	byOwner[owner] = new(big.Int).Set(amount)
}
