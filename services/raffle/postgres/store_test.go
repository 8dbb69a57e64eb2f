package postgres

import (
	"context"
	"database/sql"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/raffle_engine/pkg/logger"
	"github.com/R3E-Network/raffle_engine/services/raffle"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "sqlmock"), logger.NewDiscard("test")), mock
}

func settledSnapshot() raffle.GameSnapshot {
	started := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return raffle.GameSnapshot{
		ID:             3,
		State:          raffle.GameStateSettled,
		StartedAt:      started,
		Duration:       24 * time.Hour,
		PoolUSD:        big.NewInt(300),
		Settled:        true,
		RequestID:      "req-1",
		RandomWord:     big.NewInt(250),
		Winner:         "0xbob",
		TotalOut:       big.NewInt(1000),
		PlatformAmount: big.NewInt(50),
		FounderAmount:  big.NewInt(50),
		WinnerAmount:   big.NewInt(900),
		SettledAt:      started.Add(25 * time.Hour),
		Ranges: []raffle.WeightedRange{
			{Depositor: "0xalice", Token: "0xusdc", Start: big.NewInt(0), End: big.NewInt(100)},
			{Depositor: "0xbob", Token: "0xweth", Start: big.NewInt(100), End: big.NewInt(300)},
		},
		Participants: []raffle.Address{"0xalice", "0xbob"},
		Holdings: []raffle.TokenHolding{
			{Token: "0xusdc", Amount: big.NewInt(0)},
			{Token: "0xweth", Amount: big.NewInt(2000), Swapped: big.NewInt(1900)},
		},
		Claimable: []raffle.ClaimableBalance{
			{Payee: "0xbob", Amount: big.NewInt(900)},
		},
	}
}

func TestStore_SaveGame(t *testing.T) {
	store, mock := newMockStore(t)
	snap := settledSnapshot()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO raffle_games").
		WithArgs(int64(3), "settled", snap.StartedAt, int64(24*time.Hour), "300", true, "req-1", "250",
			"0xbob", "1000", "50", "50", "900", sql.NullTime{Time: snap.SettledAt, Valid: true}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	for _, table := range childTables {
		mock.ExpectExec("DELETE FROM " + table).WithArgs(int64(3)).WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec("INSERT INTO raffle_ranges").
		WithArgs(int64(3), 0, "0xalice", "0xusdc", "0", "100").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO raffle_ranges").
		WithArgs(int64(3), 1, "0xbob", "0xweth", "100", "300").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO raffle_participants").WithArgs(int64(3), 0, "0xalice").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO raffle_participants").WithArgs(int64(3), 1, "0xbob").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO raffle_holdings").WithArgs(int64(3), 0, "0xusdc", "0", "").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO raffle_holdings").WithArgs(int64(3), 1, "0xweth", "2000", "1900").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO raffle_claims").WithArgs(int64(3), "0xbob", "900").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveGame(context.Background(), snap))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_SaveGameRollsBack(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO raffle_games").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.SaveGame(context.Background(), settledSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert game 3")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadGames(t *testing.T) {
	store, mock := newMockStore(t)
	started := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM raffle_games ORDER BY id").WillReturnRows(
		sqlmock.NewRows([]string{"id", "state", "started_at", "duration_ns", "pool_usd", "settled", "request_id",
			"random_word", "winner", "total_out", "platform_amount", "founder_amount", "winner_amount", "settled_at"}).
			AddRow(int64(1), "settled", started, int64(time.Hour), "300", true, "req-1", "250", "0xbob",
				"1000", "50", "50", "900", started.Add(2*time.Hour)).
			AddRow(int64(2), "open", started.Add(3*time.Hour), int64(time.Hour), "0", false, "", "", "",
				"", "", "", "", nil))
	mock.ExpectQuery("SELECT (.+) FROM raffle_ranges").WillReturnRows(
		sqlmock.NewRows([]string{"game_id", "seq", "depositor", "token", "range_start", "range_end"}).
			AddRow(int64(1), 0, "0xalice", "0xusdc", "0", "100").
			AddRow(int64(1), 1, "0xbob", "0xweth", "100", "300"))
	mock.ExpectQuery("SELECT (.+) FROM raffle_participants").WillReturnRows(
		sqlmock.NewRows([]string{"game_id", "seq", "address"}).
			AddRow(int64(1), 0, "0xalice").
			AddRow(int64(1), 1, "0xbob"))
	mock.ExpectQuery("SELECT (.+) FROM raffle_holdings").WillReturnRows(
		sqlmock.NewRows([]string{"game_id", "seq", "token", "amount", "swapped"}).
			AddRow(int64(1), 0, "0xusdc", "0", "").
			AddRow(int64(1), 1, "0xweth", "2000", "1900"))
	mock.ExpectQuery("SELECT (.+) FROM raffle_claims").WillReturnRows(
		sqlmock.NewRows([]string{"game_id", "payee", "amount"}).
			AddRow(int64(1), "0xbob", "900"))

	snaps, err := store.LoadGames(context.Background())
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	settled := snaps[0]
	assert.Equal(t, uint64(1), settled.ID)
	assert.Equal(t, raffle.GameStateSettled, settled.State)
	assert.Equal(t, time.Hour, settled.Duration)
	assert.Equal(t, 0, settled.RandomWord.Cmp(big.NewInt(250)))
	assert.Equal(t, 0, settled.WinnerAmount.Cmp(big.NewInt(900)))
	assert.Equal(t, started.Add(2*time.Hour), settled.SettledAt)
	require.Len(t, settled.Ranges, 2)
	assert.Equal(t, 0, settled.Ranges[1].End.Cmp(big.NewInt(300)))
	assert.Equal(t, []raffle.Address{"0xalice", "0xbob"}, settled.Participants)
	require.Len(t, settled.Holdings, 2)
	assert.Nil(t, settled.Holdings[0].Swapped)
	assert.Equal(t, 0, settled.Holdings[1].Swapped.Cmp(big.NewInt(1900)))
	require.Len(t, settled.Claimable, 1)
	assert.Equal(t, raffle.Address("0xbob"), settled.Claimable[0].Payee)

	open := snaps[1]
	assert.Equal(t, raffle.GameStateOpen, open.State)
	assert.Nil(t, open.RandomWord)
	assert.Nil(t, open.TotalOut)
	assert.True(t, open.SettledAt.IsZero())
	assert.Zero(t, open.PoolUSD.Sign())
	assert.Empty(t, open.Ranges)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LoadGamesRejectsCorruptAmount(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM raffle_games").WillReturnRows(
		sqlmock.NewRows([]string{"id", "state", "started_at", "duration_ns", "pool_usd", "settled", "request_id",
			"random_word", "winner", "total_out", "platform_amount", "founder_amount", "winner_amount", "settled_at"}).
			AddRow(int64(1), "open", time.Now(), int64(time.Hour), "12.5", false, "", "", "", "", "", "", "", nil))
	for _, q := range []string{"raffle_ranges", "raffle_participants", "raffle_holdings", "raffle_claims"} {
		mock.ExpectQuery("SELECT (.+) FROM " + q).WillReturnRows(sqlmock.NewRows([]string{"game_id"}))
	}

	_, err := store.LoadGames(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool_usd")
}

func TestParseInt(t *testing.T) {
	v, err := parseInt("")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = parseInt("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, err)
	assert.Equal(t, 256, v.BitLen())

	_, err = parseInt("0x10")
	assert.Error(t, err)
}
