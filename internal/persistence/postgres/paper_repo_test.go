package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/copyrun/internal/domain"
)

func TestCreateCopyWritesEverythingInOneTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaperRepo(db, time.Second)

	trade := domain.PaperTrade{
		ProxyWallet: "0xabc", ConditionID: "0xm1", Side: domain.SideBuy,
		Outcome: "Yes", SizeUSD: 25, EntryPrice: 0.60, SourceTradeID: 42,
	}
	slip := domain.SlippageRecord{
		ProxyWallet: "0xabc", ConditionID: "0xm1",
		SourcePrice: 0.60, OurPrice: 0.60, SourceTradeID: 42,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO paper_trades").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))
	mock.ExpectExec("INSERT INTO copy_fidelity_events").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO follower_slippage").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO paper_positions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	// One exposure delta per risk scope: portfolio then wallet.
	mock.ExpectExec("INSERT INTO risk_states").
		WithArgs(domain.PortfolioScope, 25.0, 1).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO risk_states").
		WithArgs("0xabc", 25.0, 1).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	id, err := repo.CreateCopy(context.Background(), trade, slip)
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCopyRollsBackWhenInsertFails(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaperRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO paper_trades").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := repo.CreateCopy(context.Background(), domain.PaperTrade{}, domain.SlippageRecord{})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleMarketWithNoOpenTradesCommitsEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaperRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE paper_trades SET").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	settled, err := repo.SettleMarket(context.Background(), "0xm1", 1.0, time.Now())
	require.NoError(t, err)
	assert.Empty(t, settled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRiskStateMissingRowIsEmptyBudget(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaperRepo(db, time.Second)

	mock.ExpectQuery("SELECT (.+) FROM risk_states").
		WithArgs("0xnobody").
		WillReturnError(sql.ErrNoRows)

	state, err := repo.GetRiskState(context.Background(), "0xnobody")
	require.NoError(t, err)
	assert.Equal(t, "0xnobody", state.ScopeKey)
	assert.Zero(t, state.TotalExposureUSD)
	assert.Zero(t, state.OpenPositions)
}

func TestGetRiskStateScansRow(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaperRepo(db, time.Second)

	now := time.Now().UTC().Truncate(time.Second)
	rows := sqlmock.NewRows([]string{
		"scope_key", "total_exposure_usd", "daily_pnl", "weekly_pnl", "peak_pnl",
		"current_pnl", "open_positions", "halted", "halt_reason", "halted_until", "updated_at",
	}).AddRow("portfolio", 120.0, -4.0, -9.0, 30.0, 21.0, 6, false, "", nil, now)

	mock.ExpectQuery("SELECT (.+) FROM risk_states").
		WithArgs(domain.PortfolioScope).
		WillReturnRows(rows)

	state, err := repo.GetRiskState(context.Background(), domain.PortfolioScope)
	require.NoError(t, err)
	assert.Equal(t, 120.0, state.TotalExposureUSD)
	assert.Equal(t, 6, state.OpenPositions)
	assert.False(t, state.Halted)
}

func TestRecordSkip(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaperRepo(db, time.Second)

	mock.ExpectExec("INSERT INTO copy_fidelity_events").
		WithArgs("0xabc", "0xm1", int64(42), string(domain.OutcomeSkippedDailyLoss), "daily loss cap hit").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.RecordSkip(context.Background(), domain.FidelityEvent{
		ProxyWallet:   "0xabc",
		ConditionID:   "0xm1",
		SourceTradeID: 42,
		Outcome:       domain.OutcomeSkippedDailyLoss,
		Detail:        "daily loss cap hit",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetHaltUpserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPaperRepo(db, time.Second)

	until := time.Now().Add(72 * time.Hour)
	mock.ExpectExec("INSERT INTO risk_states").
		WithArgs("0xabc", "win_rate_drop", &until).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.SetHalt(context.Background(), "0xabc", "win_rate_drop", &until))
	assert.NoError(t, mock.ExpectationsWereMet())
}
