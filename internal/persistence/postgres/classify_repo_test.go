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
	"github.com/sawpanic/copyrun/internal/persistence"
)

func TestSetPersonaClearsExclusionInSameTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewClassifyRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM wallet_exclusions").
		WithArgs("0xabc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_personas").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO classification_history").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.SetPersona(context.Background(), persistence.PersonaRow{
		ProxyWallet:  "0xabc",
		Persona:      domain.PersonaInformedSpecialist,
		Mode:         domain.ModeMirrorDelay,
		Confidence:   0.66,
		ClassifiedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetExclusionClearsPersonaInSameTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewClassifyRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM wallet_personas").
		WithArgs("0xabc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wallet_exclusions").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO classification_history").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.SetExclusion(context.Background(), persistence.ExclusionRow{
		ProxyWallet: "0xabc",
		Code:        domain.ExcludeNoiseTrader,
		MetricValue: 75,
		Threshold:   60,
		ExcludedAt:  time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClearClassificationDropsBothRows(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewClassifyRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM wallet_personas").
		WithArgs("0xabc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM wallet_exclusions").
		WithArgs("0xabc").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.ClearClassification(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCurrentPersonaDecodesJSONColumns(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewClassifyRepo(db, time.Second)

	now := time.Now().UTC().Truncate(time.Second)
	rows := sqlmock.NewRows([]string{
		"proxy_wallet", "persona", "mode", "confidence", "risk_flags", "checks", "classified_at",
	}).AddRow("0xabc", "informed_specialist", "mirror_delay", 0.66,
		[]byte(`["bag_holding_bias"]`), []byte(`[]`), now)

	mock.ExpectQuery("SELECT (.+) FROM wallet_personas").
		WithArgs("0xabc").
		WillReturnRows(rows)

	row, err := repo.CurrentPersona(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, domain.PersonaInformedSpecialist, row.Persona)
	assert.Equal(t, []string{"bag_holding_bias"}, row.RiskFlags)
	assert.Empty(t, row.Checks)
}

func TestCurrentPersonaMapsMissingToNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewClassifyRepo(db, time.Second)

	mock.ExpectQuery("SELECT (.+) FROM wallet_personas").
		WithArgs("0xnobody").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.CurrentPersona(context.Background(), "0xnobody")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestSybilOverlapCountsSelfIntoCluster(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewClassifyRepo(db, time.Second)

	mock.ExpectQuery("WITH mine AS").
		WithArgs("0xabc", 300, 30).
		WillReturnRows(sqlmock.NewRows([]string{"count", "max"}).AddRow(2, 85.0))

	size, pct, err := repo.SybilOverlap(context.Background(), "0xabc", 300, 30)
	require.NoError(t, err)
	assert.Equal(t, 3, size)
	assert.Equal(t, 85.0, pct)
}

func TestSybilOverlapNoNeighbors(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewClassifyRepo(db, time.Second)

	mock.ExpectQuery("WITH mine AS").
		WithArgs("0xlone", 300, 30).
		WillReturnRows(sqlmock.NewRows([]string{"count", "max"}).AddRow(0, 0.0))

	size, pct, err := repo.SybilOverlap(context.Background(), "0xlone", 300, 30)
	require.NoError(t, err)
	assert.Zero(t, size)
	assert.Zero(t, pct)
}
