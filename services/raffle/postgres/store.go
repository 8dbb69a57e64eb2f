// Package postgres persists raffle game snapshots in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/raffle_engine/internal/platform/migrations"
	"github.com/R3E-Network/raffle_engine/pkg/logger"
	"github.com/R3E-Network/raffle_engine/services/raffle"
)

// Store implements raffle.Store on top of sqlx. Integer amounts are kept as
// base-10 text so values wider than NUMERIC precision round-trip exactly.
type Store struct {
	db  *sqlx.DB
	log *logger.Logger
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := migrations.Apply(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// New wraps an open database handle.
func New(db *sqlx.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("raffle-postgres")
	}
	return &Store{db: db, log: log}
}

type gameRow struct {
	ID             int64        `db:"id"`
	State          string       `db:"state"`
	StartedAt      time.Time    `db:"started_at"`
	DurationNS     int64        `db:"duration_ns"`
	PoolUSD        string       `db:"pool_usd"`
	Settled        bool         `db:"settled"`
	RequestID      string       `db:"request_id"`
	RandomWord     string       `db:"random_word"`
	Winner         string       `db:"winner"`
	TotalOut       string       `db:"total_out"`
	PlatformAmount string       `db:"platform_amount"`
	FounderAmount  string       `db:"founder_amount"`
	WinnerAmount   string       `db:"winner_amount"`
	SettledAt      sql.NullTime `db:"settled_at"`
}

type rangeRow struct {
	GameID    int64  `db:"game_id"`
	Seq       int    `db:"seq"`
	Depositor string `db:"depositor"`
	Token     string `db:"token"`
	Start     string `db:"range_start"`
	End       string `db:"range_end"`
}

type participantRow struct {
	GameID  int64  `db:"game_id"`
	Seq     int    `db:"seq"`
	Address string `db:"address"`
}

type holdingRow struct {
	GameID int64  `db:"game_id"`
	Seq    int    `db:"seq"`
	Token   string `db:"token"`
	Amount  string `db:"amount"`
	Swapped string `db:"swapped"`
}

type claimRow struct {
	GameID int64  `db:"game_id"`
	Payee  string `db:"payee"`
	Amount string `db:"amount"`
}

const upsertGame = `
INSERT INTO raffle_games (
    id, state, started_at, duration_ns, pool_usd, settled, request_id, random_word,
    winner, total_out, platform_amount, founder_amount, winner_amount, settled_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
ON CONFLICT (id) DO UPDATE SET
    state = EXCLUDED.state,
    pool_usd = EXCLUDED.pool_usd,
    settled = EXCLUDED.settled,
    request_id = EXCLUDED.request_id,
    random_word = EXCLUDED.random_word,
    winner = EXCLUDED.winner,
    total_out = EXCLUDED.total_out,
    platform_amount = EXCLUDED.platform_amount,
    founder_amount = EXCLUDED.founder_amount,
    winner_amount = EXCLUDED.winner_amount,
    settled_at = EXCLUDED.settled_at,
    updated_at = NOW()`

var childTables = []string{"raffle_ranges", "raffle_participants", "raffle_holdings", "raffle_claims"}

// SaveGame replaces the stored snapshot for the game in one transaction.
func (s *Store) SaveGame(ctx context.Context, snap raffle.GameSnapshot) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var settledAt sql.NullTime
	if !snap.SettledAt.IsZero() {
		settledAt = sql.NullTime{Time: snap.SettledAt, Valid: true}
	}
	if _, err = tx.ExecContext(ctx, upsertGame,
		int64(snap.ID), string(snap.State), snap.StartedAt, int64(snap.Duration),
		intText(snap.PoolUSD), snap.Settled, string(snap.RequestID), intText(snap.RandomWord),
		string(snap.Winner), intText(snap.TotalOut), intText(snap.PlatformAmount),
		intText(snap.FounderAmount), intText(snap.WinnerAmount), settledAt,
	); err != nil {
		return fmt.Errorf("upsert game %d: %w", snap.ID, err)
	}

	for _, table := range childTables {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE game_id = $1", int64(snap.ID)); err != nil {
			return fmt.Errorf("clear %s for game %d: %w", table, snap.ID, err)
		}
	}

	for i, r := range snap.Ranges {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO raffle_ranges (game_id, seq, depositor, token, range_start, range_end) VALUES ($1, $2, $3, $4, $5, $6)`,
			int64(snap.ID), i, string(r.Depositor), string(r.Token), intText(r.Start), intText(r.End),
		); err != nil {
			return fmt.Errorf("insert range %d: %w", i, err)
		}
	}
	for i, p := range snap.Participants {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO raffle_participants (game_id, seq, address) VALUES ($1, $2, $3)`,
			int64(snap.ID), i, string(p),
		); err != nil {
			return fmt.Errorf("insert participant %d: %w", i, err)
		}
	}
	for i, h := range snap.Holdings {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO raffle_holdings (game_id, seq, token, amount, swapped) VALUES ($1, $2, $3, $4, $5)`,
			int64(snap.ID), i, string(h.Token), intText(h.Amount), intText(h.Swapped),
		); err != nil {
			return fmt.Errorf("insert holding %d: %w", i, err)
		}
	}
	for _, c := range snap.Claimable {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO raffle_claims (game_id, payee, amount) VALUES ($1, $2, $3)`,
			int64(snap.ID), string(c.Payee), intText(c.Amount),
		); err != nil {
			return fmt.Errorf("insert claim %s: %w", c.Payee, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit game %d: %w", snap.ID, err)
	}
	return nil
}

// LoadGames returns every stored snapshot ordered by game id.
func (s *Store) LoadGames(ctx context.Context) ([]raffle.GameSnapshot, error) {
	var games []gameRow
	if err := s.db.SelectContext(ctx, &games, `
SELECT id, state, started_at, duration_ns, pool_usd, settled, request_id, random_word,
       winner, total_out, platform_amount, founder_amount, winner_amount, settled_at
FROM raffle_games ORDER BY id`); err != nil {
		return nil, fmt.Errorf("select games: %w", err)
	}

	var ranges []rangeRow
	if err := s.db.SelectContext(ctx, &ranges,
		`SELECT game_id, seq, depositor, token, range_start, range_end FROM raffle_ranges ORDER BY game_id, seq`); err != nil {
		return nil, fmt.Errorf("select ranges: %w", err)
	}
	var participants []participantRow
	if err := s.db.SelectContext(ctx, &participants,
		`SELECT game_id, seq, address FROM raffle_participants ORDER BY game_id, seq`); err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	var holdings []holdingRow
	if err := s.db.SelectContext(ctx, &holdings,
		`SELECT game_id, seq, token, amount, swapped FROM raffle_holdings ORDER BY game_id, seq`); err != nil {
		return nil, fmt.Errorf("select holdings: %w", err)
	}
	var claims []claimRow
	if err := s.db.SelectContext(ctx, &claims,
		`SELECT game_id, payee, amount FROM raffle_claims ORDER BY game_id, payee`); err != nil {
		return nil, fmt.Errorf("select claims: %w", err)
	}

	out := make([]raffle.GameSnapshot, 0, len(games))
	index := make(map[int64]int, len(games))
	for _, g := range games {
		snap, err := g.snapshot()
		if err != nil {
			return nil, err
		}
		index[g.ID] = len(out)
		out = append(out, snap)
	}

	for _, r := range ranges {
		i, ok := index[r.GameID]
		if !ok {
			continue
		}
		start, err := parseInt(r.Start)
		if err != nil {
			return nil, fmt.Errorf("game %d range %d start: %w", r.GameID, r.Seq, err)
		}
		end, err := parseInt(r.End)
		if err != nil {
			return nil, fmt.Errorf("game %d range %d end: %w", r.GameID, r.Seq, err)
		}
		out[i].Ranges = append(out[i].Ranges, raffle.WeightedRange{
			Depositor: raffle.Address(r.Depositor),
			Token:     raffle.Address(r.Token),
			Start:     start,
			End:       end,
		})
	}
	for _, p := range participants {
		if i, ok := index[p.GameID]; ok {
			out[i].Participants = append(out[i].Participants, raffle.Address(p.Address))
		}
	}
	for _, h := range holdings {
		i, ok := index[h.GameID]
		if !ok {
			continue
		}
		amount, err := parseInt(h.Amount)
		if err != nil {
			return nil, fmt.Errorf("game %d holding %s: %w", h.GameID, h.Token, err)
		}
		swapped, err := parseInt(h.Swapped)
		if err != nil {
			return nil, fmt.Errorf("game %d holding %s swapped: %w", h.GameID, h.Token, err)
		}
		out[i].Holdings = append(out[i].Holdings, raffle.TokenHolding{
			Token:   raffle.Address(h.Token),
			Amount:  amount,
			Swapped: swapped,
		})
	}
	for _, c := range claims {
		i, ok := index[c.GameID]
		if !ok {
			continue
		}
		amount, err := parseInt(c.Amount)
		if err != nil {
			return nil, fmt.Errorf("game %d claim %s: %w", c.GameID, c.Payee, err)
		}
		out[i].Claimable = append(out[i].Claimable, raffle.ClaimableBalance{Payee: raffle.Address(c.Payee), Amount: amount})
	}

	s.log.WithField("games", len(out)).Debug("loaded raffle snapshots")
	return out, nil
}

func (g gameRow) snapshot() (raffle.GameSnapshot, error) {
	snap := raffle.GameSnapshot{
		ID:        uint64(g.ID),
		State:     raffle.GameState(g.State),
		StartedAt: g.StartedAt.UTC(),
		Duration:  time.Duration(g.DurationNS),
		Settled:   g.Settled,
		RequestID: raffle.RequestID(g.RequestID),
		Winner:    raffle.Address(g.Winner),
	}
	if g.SettledAt.Valid {
		snap.SettledAt = g.SettledAt.Time.UTC()
	}

	fields := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"pool_usd", g.PoolUSD, &snap.PoolUSD},
		{"random_word", g.RandomWord, &snap.RandomWord},
		{"total_out", g.TotalOut, &snap.TotalOut},
		{"platform_amount", g.PlatformAmount, &snap.PlatformAmount},
		{"founder_amount", g.FounderAmount, &snap.FounderAmount},
		{"winner_amount", g.WinnerAmount, &snap.WinnerAmount},
	}
	for _, f := range fields {
		v, err := parseInt(f.raw)
		if err != nil {
			return raffle.GameSnapshot{}, fmt.Errorf("game %d %s: %w", g.ID, f.name, err)
		}
		*f.dst = v
	}
	if snap.PoolUSD == nil {
		snap.PoolUSD = new(big.Int)
	}
	return snap, nil
}

// intText encodes nil as the empty string.
func intText(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func parseInt(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", raw)
	}
	return v, nil
}
