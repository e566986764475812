package affiliates

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/sellhub/pkg/catalog"
	"github.com/platinummonkey/sellhub/pkg/money"
)

func newMockService(t *testing.T) (*PostgresService, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewPostgresService(db), mock, db
}

var affiliationRowColumns = []string{"id", "product_id", "producer_id", "affiliate_id", "code", "commission_bps",
	"status", "created_at", "updated_at"}

func TestJoin(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	now := time.Now()
	product := &catalog.Product{ID: 5, ProducerID: 1, AffiliationEnabled: true}

	mock.ExpectQuery(`INSERT INTO affiliations`).
		WithArgs(int64(5), int64(1), int64(9), sqlmock.AnyArg(), StatusPending).
		WillReturnRows(sqlmock.NewRows(affiliationRowColumns).AddRow(2, 5, 1, 9, "abcdefgh", 0, "pending", now, now))

	aff, err := service.Join(context.Background(), 9, product)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, aff.Status)

	mock.ExpectQuery(`INSERT INTO affiliations`).WillReturnError(&pq.Error{Code: "23505"})
	_, err = service.Join(context.Background(), 9, product)
	assert.ErrorIs(t, err, ErrAlreadyAffiliated)

	_, err = service.Join(context.Background(), 1, product)
	assert.ErrorIs(t, err, ErrSelfAffiliation)

	_, err = service.Join(context.Background(), 9, &catalog.Product{ID: 6, ProducerID: 1})
	assert.ErrorIs(t, err, ErrAffiliationDisabled)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateCode(t *testing.T) {
	a, err := generateCode()
	require.NoError(t, err)
	b, err := generateCode()
	require.NoError(t, err)
	assert.Len(t, a, 8)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^[a-z2-7]{8}$`, a)
}

func TestGetByCode(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()

	mock.ExpectQuery(`FROM affiliations WHERE code = \$1`).
		WithArgs("abcdefgh").
		WillReturnError(sql.ErrNoRows)

	_, err := service.GetByCode(context.Background(), " ABCDEFGH ")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAffiliation(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	now := time.Now()

	approved := StatusApproved
	commission := money.BasisPoints(4500)
	mock.ExpectQuery(`UPDATE affiliations SET status = \$1, commission_bps = \$2, updated_at = NOW\(\) WHERE id = \$3 AND producer_id = \$4`).
		WithArgs(StatusApproved, money.BasisPoints(4500), int64(2), int64(1)).
		WillReturnRows(sqlmock.NewRows(affiliationRowColumns).AddRow(2, 5, 1, 9, "abcdefgh", 4500, "approved", now, now))

	aff, err := service.Update(context.Background(), 1, 2, &UpdateAffiliationRequest{Status: &approved, CommissionBps: &commission})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, aff.Status)
	assert.Equal(t, money.BasisPoints(4500), aff.CommissionBps)

	bogus := Status("banned")
	_, err = service.Update(context.Background(), 1, 2, &UpdateAffiliationRequest{Status: &bogus})
	assert.ErrorIs(t, err, ErrInvalidStatus)

	tooHigh := money.BasisPoints(10001)
	_, err = service.Update(context.Background(), 1, 2, &UpdateAffiliationRequest{CommissionBps: &tooHigh})
	assert.ErrorIs(t, err, ErrInvalidCommission)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWithoutChangesChecksOwner(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	now := time.Now()

	mock.ExpectQuery(`FROM affiliations WHERE id = \$1`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows(affiliationRowColumns).AddRow(2, 5, 1, 9, "abcdefgh", 0, "approved", now, now))

	_, err := service.Update(context.Background(), 7, 2, &UpdateAffiliationRequest{})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
