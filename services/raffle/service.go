package raffle

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_engine/pkg/logger"
)

// Config holds the engine's identities and policy values.
type Config struct {
	Owner          Address
	Coordinator    Address
	Engine         Address
	PayoutToken    Address
	PayoutDecimals uint8
	PlatformWallet Address
	FounderWallet  Address

	PlatformFeeBps    uint32
	FounderFeeBps     uint32
	MaxCombinedFeeBps uint32

	MaxParticipants int
	MinDepositUSD   *big.Int
	GameDuration    time.Duration
	FreshnessWindow time.Duration
	MinOutBps       uint32
	FeeTier         uint32
	Draw            DrawConfig
}

func (c *Config) applyDefaults() {
	c.Owner = c.Owner.Normalize()
	c.Coordinator = c.Coordinator.Normalize()
	c.Engine = c.Engine.Normalize()
	c.PayoutToken = c.PayoutToken.Normalize()
	c.PlatformWallet = c.PlatformWallet.Normalize()
	c.FounderWallet = c.FounderWallet.Normalize()
	if c.MaxCombinedFeeBps == 0 {
		c.MaxCombinedFeeBps = DefaultMaxCombinedFeeBps
	}
	if c.PayoutDecimals == 0 {
		c.PayoutDecimals = DefaultTokenDecimals
	}
	if c.MaxParticipants == 0 {
		c.MaxParticipants = DefaultMaxParticipants
	}
	if c.MinDepositUSD == nil {
		c.MinDepositUSD = new(big.Int)
	}
	if c.GameDuration == 0 {
		c.GameDuration = DefaultGameDuration
	}
	if c.FreshnessWindow == 0 {
		c.FreshnessWindow = DefaultFreshnessWindow
	}
	if c.MinOutBps == 0 {
		c.MinOutBps = DefaultMinOutBps
	}
	if c.FeeTier == 0 {
		c.FeeTier = DefaultFeeTier
	}
}

// Validate checks identities and policy bounds.
func (c Config) Validate() error {
	required := map[string]Address{
		"owner":        c.Owner,
		"coordinator":  c.Coordinator,
		"engine":       c.Engine,
		"payout_token": c.PayoutToken,
	}
	for name, addr := range required {
		if addr.IsZero() {
			return fmt.Errorf("%w: %s is required", ErrInvalidConfig, name)
		}
	}
	if c.PlatformFeeBps+c.FounderFeeBps > c.MaxCombinedFeeBps {
		return fmt.Errorf("%w: %d bps > %d bps", ErrFeeTooHigh, c.PlatformFeeBps+c.FounderFeeBps, c.MaxCombinedFeeBps)
	}
	if c.MaxCombinedFeeBps > BasisPoints {
		return fmt.Errorf("%w: fee cap above 100%%", ErrInvalidConfig)
	}
	if (c.PlatformFeeBps > 0 && c.PlatformWallet.IsZero()) || (c.FounderFeeBps > 0 && c.FounderWallet.IsZero()) {
		return fmt.Errorf("%w: fee recipient is required when its fee is set", ErrInvalidConfig)
	}
	if c.MinOutBps > BasisPoints {
		return fmt.Errorf("%w: min_out_bps above 100%%", ErrInvalidConfig)
	}
	if c.MaxParticipants < 0 || c.GameDuration < 0 || c.MinDepositUSD.Sign() < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}
	return nil
}

// Dependencies are the collaborators the engine calls out to.
type Dependencies struct {
	Randomness RandomnessService
	Router     SwapRouter
	Vault      TokenVault
	Permitter  Permitter
	Publisher  EventPublisher
	Store      Store
	Recorder   Recorder
	Now        func() time.Time
}

// FeeSchedule is the current fee configuration.
type FeeSchedule struct {
	PlatformFeeBps uint32  `json:"platform_fee_bps"`
	FounderFeeBps  uint32  `json:"founder_fee_bps"`
	PlatformWallet Address `json:"platform_wallet"`
	FounderWallet  Address `json:"founder_wallet"`
}

// Service is the game state machine. Games move
// open -> random_requested -> winner_selected -> settled, and a new game may
// only start once the current one is settled.
type Service struct {
	cfg   Config
	log   *logger.Logger
	now   func() time.Time
	guard *guard

	vault     TokenVault
	permitter Permitter
	publisher EventPublisher
	store     Store
	recorder  Recorder

	prices     *PriceNormalizer
	randomness *randomnessCoordinator
	settlement *settlementEngine

	mu        sync.RWMutex
	games     map[uint64]*Game
	currentID uint64
	tokens    map[Address]TokenConfig
	fees      FeeSchedule
	totalPaid *big.Int
}

// New constructs the engine. No game exists until the operator calls StartNewGame.
func New(cfg Config, deps Dependencies, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NewDefault("raffle")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Randomness == nil || deps.Router == nil || deps.Vault == nil {
		return nil, fmt.Errorf("%w: randomness, router and vault are required", ErrInvalidConfig)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		cfg:        cfg,
		log:        log,
		now:        now,
		guard:      newGuard(),
		vault:      deps.Vault,
		permitter:  deps.Permitter,
		publisher:  deps.Publisher,
		store:      deps.Store,
		recorder:   deps.Recorder,
		prices:     NewPriceNormalizer(cfg.FreshnessWindow, now),
		randomness: newRandomnessCoordinator(deps.Randomness, cfg.Draw, cfg.Engine),
		settlement: &settlementEngine{
			router:      deps.Router,
			payoutToken: cfg.PayoutToken,
			payoutDec:   cfg.PayoutDecimals,
			recipient:   cfg.Engine,
			feeTier:     cfg.FeeTier,
			minOutBps:   cfg.MinOutBps,
			now:         now,
		},
		games:  make(map[uint64]*Game),
		tokens: make(map[Address]TokenConfig),
		fees: FeeSchedule{
			PlatformFeeBps: cfg.PlatformFeeBps,
			FounderFeeBps:  cfg.FounderFeeBps,
			PlatformWallet: cfg.PlatformWallet,
			FounderWallet:  cfg.FounderWallet,
		},
		totalPaid: new(big.Int),
	}, nil
}

// Logger returns the service logger.
func (s *Service) Logger() *logger.Logger { return s.log }

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// --- Operator actions ---

// SetAllowedToken adds or updates an allow-listed token and its price feed.
func (s *Service) SetAllowedToken(ctx context.Context, caller, token Address, cfg TokenConfig) error {
	_, release, err := s.guard.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := s.requireOperator(caller); err != nil {
		return err
	}
	token = token.Normalize()
	if token.IsZero() {
		return ErrInvalidAddress
	}
	if cfg.Feed == nil {
		return fmt.Errorf("%w: price feed is required", ErrInvalidConfig)
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = DefaultTokenDecimals
	}

	s.mu.Lock()
	s.tokens[token] = cfg
	s.mu.Unlock()

	s.log.WithField("token", token).WithField("decimals", cfg.Decimals).Info("token allowed")
	return nil
}

// RemoveAllowedToken removes a token from the allow-list. Holdings already
// recorded in a game are still settled.
func (s *Service) RemoveAllowedToken(ctx context.Context, caller, token Address) error {
	_, release, err := s.guard.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := s.requireOperator(caller); err != nil {
		return err
	}
	token = token.Normalize()
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()

	s.log.WithField("token", token).Info("token removed")
	return nil
}

// SetFees updates the fee split. The combined fee may not exceed the cap.
func (s *Service) SetFees(ctx context.Context, caller Address, platformBps, founderBps uint32) error {
	_, release, err := s.guard.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := s.requireOperator(caller); err != nil {
		return err
	}
	if uint64(platformBps)+uint64(founderBps) > uint64(s.cfg.MaxCombinedFeeBps) {
		return fmt.Errorf("%w: %d + %d bps > %d bps", ErrFeeTooHigh, platformBps, founderBps, s.cfg.MaxCombinedFeeBps)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if (platformBps > 0 && s.fees.PlatformWallet.IsZero()) || (founderBps > 0 && s.fees.FounderWallet.IsZero()) {
		return fmt.Errorf("%w: fee recipient is not configured", ErrInvalidConfig)
	}
	s.fees.PlatformFeeBps = platformBps
	s.fees.FounderFeeBps = founderBps

	s.log.WithField("platform_fee_bps", platformBps).
		WithField("founder_fee_bps", founderBps).
		Info("fees updated")
	return nil
}

// SetFeeRecipients updates the platform and founder payees.
func (s *Service) SetFeeRecipients(ctx context.Context, caller, platform, founder Address) error {
	_, release, err := s.guard.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := s.requireOperator(caller); err != nil {
		return err
	}
	platform, founder = platform.Normalize(), founder.Normalize()
	if platform.IsZero() || founder.IsZero() {
		return ErrInvalidAddress
	}

	s.mu.Lock()
	s.fees.PlatformWallet = platform
	s.fees.FounderWallet = founder
	s.mu.Unlock()

	s.log.WithField("platform_wallet", platform).WithField("founder_wallet", founder).Info("fee recipients updated")
	return nil
}

// StartNewGame opens the next game. The current game must be settled.
func (s *Service) StartNewGame(ctx context.Context, caller Address) (view GameView, err error) {
	defer s.observe("start_game", time.Now(), &err)

	ctx, release, err := s.guard.acquire(ctx)
	if err != nil {
		return GameView{}, err
	}
	defer release()

	if err := s.requireOperator(caller); err != nil {
		return GameView{}, err
	}

	s.mu.Lock()
	if cur, ok := s.games[s.currentID]; ok && !cur.Settled {
		s.mu.Unlock()
		return GameView{}, fmt.Errorf("%w: game %d is %s", ErrGameNotSettled, cur.ID, cur.State)
	}
	g := newGame(s.currentID+1, s.now().UTC(), s.cfg.GameDuration)
	s.games[g.ID] = g
	s.currentID = g.ID
	view, snap := g.view(), g.snapshot()
	s.mu.Unlock()

	s.persist(ctx, snap)
	s.publish(ctx, EventGameStarted, g.ID, map[string]any{
		"started_at": view.StartedAt,
		"duration":   view.Duration.String(),
	})
	s.log.WithField("game_id", g.ID).WithField("duration", g.Duration).Info("raffle game started")
	return view, nil
}

// --- Deposits ---

// Deposit prices a deposit, pulls the tokens into custody, and appends the
// deposit's weighted range to the current game.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (r WeightedRange, err error) {
	defer s.observe("deposit", time.Now(), &err)

	req.Depositor = req.Depositor.Normalize()
	req.Token = req.Token.Normalize()
	if req.Depositor.IsZero() || req.Token.IsZero() {
		return WeightedRange{}, ErrInvalidAddress
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return WeightedRange{}, ErrInvalidAmount
	}

	ctx, release, err := s.guard.acquire(ctx)
	if err != nil {
		return WeightedRange{}, err
	}
	defer release()

	s.mu.RLock()
	g, err := s.currentLocked()
	if err == nil && g.State != GameStateOpen {
		err = fmt.Errorf("%w: game %d is %s", ErrInvalidState, g.ID, g.State)
	}
	var (
		tokenCfg     TokenConfig
		allowed      bool
		participants int
	)
	if err == nil {
		tokenCfg, allowed = s.tokens[req.Token]
		participants = len(g.Participants)
	}
	s.mu.RUnlock()
	if err != nil {
		return WeightedRange{}, err
	}
	if !allowed {
		return WeightedRange{}, fmt.Errorf("%w: %s", ErrTokenNotAllowed, req.Token)
	}
	if participants >= s.cfg.MaxParticipants {
		return WeightedRange{}, fmt.Errorf("%w: %d participants", ErrParticipantCap, participants)
	}

	value, err := s.prices.Normalize(ctx, tokenCfg, req.Amount)
	if err != nil {
		return WeightedRange{}, err
	}
	if value.Sign() == 0 || value.Cmp(s.cfg.MinDepositUSD) < 0 {
		return WeightedRange{}, fmt.Errorf("%w: %s < %s", ErrDepositTooSmall, value, s.cfg.MinDepositUSD)
	}

	// The permit is best effort; TransferFrom enforces the actual allowance.
	if req.Permit != nil && s.permitter != nil {
		if perr := s.permitter.Permit(ctx, req.Token, req.Depositor, s.cfg.Engine, req.Amount, *req.Permit); perr != nil {
			s.log.WithContext(ctx).WithError(perr).
				WithField("depositor", req.Depositor).
				Debug("permit rejected, relying on existing allowance")
		}
	}
	if err := s.vault.TransferFrom(ctx, req.Token, req.Depositor, s.cfg.Engine, req.Amount); err != nil {
		return WeightedRange{}, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	s.mu.Lock()
	r = g.appendDeposit(req.Depositor, req.Token, req.Amount, value)
	pool, snap := cloneInt(g.PoolUSD), g.snapshot()
	s.mu.Unlock()

	s.persist(ctx, snap)
	if s.recorder != nil {
		s.recorder.RecordDeposit(string(req.Token), value)
		s.recorder.RecordPool(g.ID, pool)
	}
	s.publish(ctx, EventDepositRecorded, g.ID, map[string]any{
		"depositor":  req.Depositor,
		"token":      req.Token,
		"amount":     req.Amount.String(),
		"usd_value":  value.String(),
		"range_from": r.Start.String(),
		"range_to":   r.End.String(),
	})
	s.log.WithField("game_id", g.ID).
		WithField("depositor", req.Depositor).
		WithField("token", req.Token).
		WithField("usd_value", value.String()).
		Info("deposit recorded")
	return r, nil
}

// --- Draw ---

// CheckUpkeep reports whether RequestDraw would succeed now, and the reason
// code when it would not.
func (s *Service) CheckUpkeep(ctx context.Context) (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.drawableLocked(); err != nil {
		return false, CodeOf(err)
	}
	return true, ""
}

// PerformUpkeep is the permissionless trigger paired with CheckUpkeep.
func (s *Service) PerformUpkeep(ctx context.Context) (RequestID, error) {
	return s.RequestDraw(ctx)
}

// RequestDraw moves the current game from open to random_requested once its
// window has elapsed and its pool is non-empty.
func (s *Service) RequestDraw(ctx context.Context) (id RequestID, err error) {
	defer s.observe("request_draw", time.Now(), &err)

	ctx, release, err := s.guard.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	s.mu.RLock()
	g, err := s.drawableLocked()
	s.mu.RUnlock()
	if err != nil {
		return "", err
	}

	id, err = s.randomness.issue(ctx, g.ID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if err := s.randomness.bind(id, g.ID); err != nil {
		s.mu.Unlock()
		return "", err
	}
	g.State = GameStateRandomRequested
	g.RequestID = id
	snap := g.snapshot()
	s.mu.Unlock()

	s.persist(ctx, snap)
	if s.recorder != nil {
		s.recorder.RecordDrawRequested()
	}
	s.publish(ctx, EventDrawRequested, g.ID, map[string]any{
		"request_id": id,
		"pool_usd":   snap.PoolUSD.String(),
	})
	s.log.WithField("game_id", g.ID).WithField("request_id", id).Info("randomness requested")
	return id, nil
}

// FulfillRandomWords records the random word for the game that owns requestID.
// Only the configured coordinator may call it, and each request is accepted once.
func (s *Service) FulfillRandomWords(ctx context.Context, caller Address, requestID RequestID, words []*big.Int) (err error) {
	defer func() {
		if s.recorder != nil {
			s.recorder.RecordFulfillment(err)
		}
	}()
	defer s.observe("fulfill", time.Now(), &err)

	ctx, release, err := s.guard.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if caller.Normalize() != s.cfg.Coordinator {
		return ErrUnauthorizedCallback
	}

	s.mu.Lock()
	gameID, ok := s.randomness.lookup(requestID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownRequest, requestID)
	}
	g := s.games[gameID]
	if g == nil || g.State != GameStateRandomRequested {
		s.mu.Unlock()
		return fmt.Errorf("%w: game %d is not awaiting a draw", ErrInvalidState, gameID)
	}
	word, err := firstWord(words)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	g.RandomWord = word
	g.State = GameStateWinnerSelected
	s.randomness.resolve(requestID)
	snap := g.snapshot()
	s.mu.Unlock()

	s.persist(ctx, snap)
	s.publish(ctx, EventRandomnessFulfilled, gameID, map[string]any{
		"request_id": requestID,
	})
	entry := s.log.WithField("game_id", gameID).WithField("request_id", requestID)
	if word.Sign() == 0 {
		entry.Warn("randomness fulfilled with a zero word; game cannot be finalized")
	} else {
		entry.Info("randomness fulfilled")
	}
	return nil
}

// --- Settlement ---

// FinalizeGame resolves the winner of a game whose random word has arrived and
// settles it: holdings are swapped to the payout token and the proceeds are
// credited as claimable balances.
func (s *Service) FinalizeGame(ctx context.Context, caller Address, gameID uint64) (out Settlement, err error) {
	defer func() {
		if s.recorder != nil {
			s.recorder.RecordSettlement(err)
		}
	}()
	defer s.observe("finalize", time.Now(), &err)

	ctx, release, err := s.guard.acquire(ctx)
	if err != nil {
		return Settlement{}, err
	}
	defer release()

	if err := s.requireOperator(caller); err != nil {
		return Settlement{}, err
	}

	s.mu.RLock()
	g, ok := s.games[gameID]
	if !ok {
		s.mu.RUnlock()
		return Settlement{}, fmt.Errorf("%w: %d", ErrGameNotFound, gameID)
	}
	switch {
	case g.Settled:
		err = fmt.Errorf("%w: game %d", ErrAlreadySettled, gameID)
	case g.State != GameStateWinnerSelected:
		err = fmt.Errorf("%w: game %d is %s", ErrInvalidState, gameID, g.State)
	case g.RandomWord.Sign() == 0:
		err = fmt.Errorf("%w: game %d", ErrRandomNotReady, gameID)
	}
	if err != nil {
		s.mu.RUnlock()
		return Settlement{}, err
	}
	var (
		winner WeightedRange
		point  *big.Int
	)
	err = g.verifyPartition()
	if err == nil {
		winner, point, err = ResolveWinner(g.Ranges, g.RandomWord, g.PoolUSD)
	}
	tokens := append([]Address(nil), g.Tokens...)
	holdings := copyAmounts(g.Holdings)
	swapped := copyAmounts(g.Swapped)
	decimals := make(map[Address]uint8, len(tokens))
	for _, token := range tokens {
		if cfg, ok := s.tokens[token]; ok {
			decimals[token] = cfg.Decimals
		}
	}
	fees := s.fees
	s.mu.RUnlock()
	if err != nil {
		s.invariantBreach(ctx, gameID, err)
		return Settlement{}, err
	}

	total, done, err := s.settlement.swapAll(ctx, tokens, holdings, decimals, swapped)
	if err != nil {
		entry := s.log.WithContext(ctx).WithError(err).WithField("game_id", gameID)
		if len(done) > 0 {
			s.mu.Lock()
			for token, received := range done {
				g.Swapped[token] = received
			}
			snap := g.snapshot()
			s.mu.Unlock()
			s.persist(ctx, snap)
			entry = entry.WithField("swapped_tokens", len(done))
		}
		entry.Warn("settlement swap failed")
		return Settlement{}, err
	}
	platformAmt, founderAmt, winnerAmt := splitFees(total, fees.PlatformFeeBps, fees.FounderFeeBps)
	settledAt := s.now().UTC()

	s.mu.Lock()
	g.Winner = winner.Depositor
	g.TotalOut = total
	g.PlatformAmount = platformAmt
	g.FounderAmount = founderAmt
	g.WinnerAmount = winnerAmt
	g.credit(fees.PlatformWallet, platformAmt)
	g.credit(fees.FounderWallet, founderAmt)
	g.credit(winner.Depositor, winnerAmt)
	g.Settled = true
	g.State = GameStateSettled
	g.SettledAt = settledAt
	snap := g.snapshot()
	s.mu.Unlock()

	out = Settlement{
		GameID:         gameID,
		Winner:         winner.Depositor,
		WinningPoint:   point,
		TotalOut:       cloneInt(total),
		PlatformAmount: cloneInt(platformAmt),
		FounderAmount:  cloneInt(founderAmt),
		WinnerAmount:   cloneInt(winnerAmt),
		SettledAt:      settledAt,
	}

	s.persist(ctx, snap)
	s.publish(ctx, EventGameSettled, gameID, map[string]any{
		"winner":          out.Winner,
		"winning_point":   point.String(),
		"total_out":       total.String(),
		"platform_amount": platformAmt.String(),
		"founder_amount":  founderAmt.String(),
		"winner_amount":   winnerAmt.String(),
	})
	s.log.WithField("game_id", gameID).
		WithField("winner", out.Winner).
		WithField("total_out", total.String()).
		Info("raffle game settled")
	return out, nil
}

// --- Claims ---

// Claim pays out payee's claimable balance for a game. The balance is zeroed
// before the transfer and restored if the transfer fails.
func (s *Service) Claim(ctx context.Context, gameID uint64, payee Address) (amount *big.Int, err error) {
	defer func() {
		if s.recorder != nil {
			s.recorder.RecordClaim(err)
		}
	}()
	defer s.observe("claim", time.Now(), &err)

	payee = payee.Normalize()
	s.mu.RLock()
	g, ok := s.games[gameID]
	var owed *big.Int
	if ok {
		owed = g.owed(payee)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrGameNotFound, gameID)
	}
	if owed.Sign() == 0 {
		return nil, ErrNothingToClaim
	}

	ctx, release, err := s.guard.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	amount = g.take(payee)
	s.mu.Unlock()
	if amount.Sign() == 0 {
		return nil, ErrNothingToClaim
	}

	if err := s.vault.Transfer(ctx, s.cfg.PayoutToken, payee, amount); err != nil {
		s.mu.Lock()
		g.restore(payee, amount)
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	s.mu.Lock()
	s.totalPaid.Add(s.totalPaid, amount)
	snap := g.snapshot()
	s.mu.Unlock()

	s.persist(ctx, snap)
	s.publish(ctx, EventClaimPaid, gameID, map[string]any{
		"payee":  payee,
		"amount": amount.String(),
	})
	s.log.WithField("game_id", gameID).
		WithField("payee", payee).
		WithField("amount", amount.String()).
		Info("claim paid")
	return amount, nil
}

// --- Queries ---

// Game returns a view of one game.
func (s *Service) Game(gameID uint64) (GameView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[gameID]
	if !ok {
		return GameView{}, fmt.Errorf("%w: %d", ErrGameNotFound, gameID)
	}
	return g.view(), nil
}

// CurrentGame returns a view of the highest-numbered game.
func (s *Service) CurrentGame() (GameView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, err := s.currentLocked()
	if err != nil {
		return GameView{}, err
	}
	return g.view(), nil
}

// Ranges returns a copy of a game's weighted ranges in deposit order.
func (s *Service) Ranges(gameID uint64) ([]WeightedRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrGameNotFound, gameID)
	}
	return copyRanges(g.Ranges), nil
}

// Participants returns a game's distinct depositors in first-deposit order.
func (s *Service) Participants(gameID uint64) ([]Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrGameNotFound, gameID)
	}
	return append([]Address(nil), g.Participants...), nil
}

// Holdings returns a game's per-token raw amounts in first-deposit order.
func (s *Service) Holdings(gameID uint64) ([]TokenHolding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrGameNotFound, gameID)
	}
	return g.holdingList(), nil
}

// Settlement returns the settlement result of a settled game.
func (s *Service) Settlement(gameID uint64) (Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[gameID]
	if !ok {
		return Settlement{}, fmt.Errorf("%w: %d", ErrGameNotFound, gameID)
	}
	if !g.Settled {
		return Settlement{}, fmt.Errorf("%w: game %d is %s", ErrInvalidState, gameID, g.State)
	}
	return Settlement{
		GameID:         g.ID,
		Winner:         g.Winner,
		WinningPoint:   new(big.Int).Mod(g.RandomWord, g.PoolUSD),
		TotalOut:       cloneInt(g.TotalOut),
		PlatformAmount: cloneInt(g.PlatformAmount),
		FounderAmount:  cloneInt(g.FounderAmount),
		WinnerAmount:   cloneInt(g.WinnerAmount),
		SettledAt:      g.SettledAt,
	}, nil
}

// Claimable returns what payee may currently withdraw from a game.
func (s *Service) Claimable(gameID uint64, payee Address) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrGameNotFound, gameID)
	}
	return g.owed(payee.Normalize()), nil
}

// AllowedTokens lists the allow-listed tokens in lexical order.
func (s *Service) AllowedTokens() []Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Address, 0, len(s.tokens))
	for token := range s.tokens {
		out = append(out, token)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Fees returns the current fee schedule.
func (s *Service) Fees() FeeSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fees
}

// Stats summarises all games.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{
		TotalGames:        uint64(len(s.games)),
		CurrentGameID:     s.currentID,
		CurrentPoolUSD:    new(big.Int),
		TotalDepositedUSD: new(big.Int),
		TotalPaidOut:      cloneInt(s.totalPaid),
	}
	for _, g := range s.games {
		stats.TotalDepositedUSD.Add(stats.TotalDepositedUSD, g.PoolUSD)
		if g.Settled {
			stats.SettledGames++
		}
	}
	if cur, ok := s.games[s.currentID]; ok {
		stats.CurrentPoolUSD.Set(cur.PoolUSD)
	}
	return stats
}

// Restore rebuilds the arena from the store. It is meant to run once at startup.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	_, release, err := s.guard.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	snaps, err := s.store.LoadGames(ctx)
	if err != nil {
		return 0, fmt.Errorf("load games: %w", err)
	}

	games := make(map[uint64]*Game, len(snaps))
	var currentID uint64
	totalPaid := new(big.Int)
	requests := make(map[RequestID]uint64)
	for _, snap := range snaps {
		g := gameFromSnapshot(snap)
		if err := g.verifyPartition(); err != nil {
			s.invariantBreach(ctx, g.ID, err)
			return 0, err
		}
		games[g.ID] = g
		if g.ID > currentID {
			currentID = g.ID
		}
		if g.State == GameStateRandomRequested && g.RequestID != "" {
			requests[g.RequestID] = g.ID
		}
		if g.Settled && g.TotalOut != nil {
			totalPaid.Add(totalPaid, g.TotalOut)
			for _, owed := range g.Claimable {
				totalPaid.Sub(totalPaid, owed)
			}
		}
	}

	s.mu.Lock()
	s.games = games
	s.currentID = currentID
	s.totalPaid = totalPaid
	s.randomness.requests = requests
	s.mu.Unlock()

	s.log.WithField("games", len(games)).WithField("current_game_id", currentID).Info("raffle state restored")
	return len(games), nil
}

// --- helpers ---

func (s *Service) requireOperator(caller Address) error {
	if caller.Normalize() != s.cfg.Owner {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) currentLocked() (*Game, error) {
	g, ok := s.games[s.currentID]
	if !ok {
		return nil, ErrNoGame
	}
	return g, nil
}

func (s *Service) drawableLocked() (*Game, error) {
	g, err := s.currentLocked()
	if err != nil {
		return nil, err
	}
	if g.State != GameStateOpen {
		return nil, fmt.Errorf("%w: game %d is %s", ErrInvalidState, g.ID, g.State)
	}
	if !g.DrawDue(s.now()) {
		return nil, fmt.Errorf("%w: game %d closes at %s", ErrDrawWindowOpen, g.ID, g.StartedAt.Add(g.Duration).Format(time.RFC3339))
	}
	if g.PoolUSD.Sign() == 0 {
		return nil, fmt.Errorf("%w: game %d", ErrEmptyPool, g.ID)
	}
	return g, nil
}

func (s *Service) persist(ctx context.Context, snap GameSnapshot) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveGame(ctx, snap); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("game_id", snap.ID).Warn("failed to persist game snapshot")
	}
}

func (s *Service) publish(ctx context.Context, topic string, gameID uint64, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, NewEvent(topic, gameID, payload, s.now())); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("topic", topic).Warn("failed to publish raffle event")
	}
}

func (s *Service) invariantBreach(ctx context.Context, gameID uint64, err error) {
	s.log.WithContext(ctx).WithError(err).WithField("game_id", gameID).Error("raffle ledger invariant violated")
	if s.recorder != nil {
		s.recorder.RecordInvariantViolation()
	}
}

func (s *Service) observe(op string, started time.Time, err *error) {
	if s.recorder == nil {
		return
	}
	s.recorder.ObserveOperation(op, *err, time.Since(started).Seconds())
}
