package allocator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kkkkikiki/fomo/internal/codegen"
	"github.com/kkkkikiki/fomo/internal/config"
	"github.com/kkkkikiki/fomo/internal/eligibility"
	"github.com/kkkkikiki/fomo/internal/model"
	"github.com/kkkkikiki/fomo/internal/testutil"
)

var fixedNow = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestAllocator(t *testing.T) (*Allocator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := testutil.NewMockDB(t)

	checker, err := eligibility.NewChecker(&config.Rules{})
	require.NoError(t, err)
	checker.WithClock(func() time.Time { return fixedNow })

	codes, err := codegen.NewGenerator("test-secret")
	require.NoError(t, err)

	a := NewAllocator(db, checker, codes, time.Hour).WithClock(func() time.Time { return fixedNow })
	return a, mock
}

func campaignWith(remaining int32, status model.CampaignStatus) *model.Campaign {
	return &model.Campaign{
		ID:             1,
		Name:           "Launch",
		DiscountType:   model.DiscountPercentage,
		DiscountValue:  decimal.NewFromInt(10),
		TotalCodes:     100,
		CodesRemaining: remaining,
		ExpiryHours:    24,
		MaxClaimsPerIP: 1,
		ScopeType:      model.ScopeAll,
		Status:         status,
		Tiers: model.Tiers{
			{CodeCount: 50, DiscountValue: decimal.NewFromInt(25)},
			{CodeCount: 30, DiscountValue: decimal.NewFromInt(15)},
			{CodeCount: 0, DiscountValue: decimal.NewFromInt(10)},
		},
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
}

func expectEligible(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("AND verified\\)").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("state = 'reserved' AND expires_at").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
}

var alice = eligibility.Identity{Email: "alice@example.com", IP: "192.0.2.1"}

const aliceToken = "5a7e6f1c0b2d4e8f9a3c5b7d1e0f2a4c6b8d0e2f4a6c8e0b2d4f6a8c0e2b4d6f"

func TestReserve_Unverified(t *testing.T) {
	a, mock := newTestAllocator(t)

	mock.ExpectQuery("FROM campaigns WHERE id = \\$1$").WillReturnRows(testutil.CampaignRows(campaignWith(30, model.StatusActive)))
	expectEligible(mock)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(testutil.CampaignRows(campaignWith(30, model.StatusActive)))
	expectEligible(mock)
	mock.ExpectQuery("UPDATE campaigns SET codes_remaining").
		WithArgs(int64(1), -1, sqlmock.AnyArg(), "active").
		WillReturnRows(sqlmock.NewRows([]string{"codes_remaining"}).AddRow(29))
	mock.ExpectQuery("SET code_seq = code_seq \\+ 1").WillReturnRows(sqlmock.NewRows([]string{"code_seq"}).AddRow(71))
	mock.ExpectExec("INSERT INTO claims").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO verification_tokens").
		WithArgs(aliceToken, sqlmock.AnyArg(), fixedNow.Add(time.Hour), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := a.Reserve(context.Background(), Request{CampaignID: 1, Identity: alice, TokenHash: aliceToken})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	claim := res.Claim
	assert.Equal(t, model.ClaimReserved, claim.State)
	assert.False(t, claim.Verified)
	assert.Equal(t, fixedNow.Add(time.Hour), claim.ExpiresAt)
	assert.True(t, decimal.NewFromInt(15).Equal(claim.DiscountValue), "70 claimed so far falls in the second tier")
	assert.True(t, codegen.Valid(claim.IssuedCode))
	assert.Equal(t, int32(29), res.Campaign.CodesRemaining)
	assert.Equal(t, model.StatusActive, res.Campaign.Status)
}

func TestReserve_TrustedLastCodeEndsCampaign(t *testing.T) {
	a, mock := newTestAllocator(t)

	mock.ExpectQuery("FROM campaigns WHERE id = \\$1$").WillReturnRows(testutil.CampaignRows(campaignWith(1, model.StatusActive)))
	expectEligible(mock)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(testutil.CampaignRows(campaignWith(1, model.StatusActive)))
	expectEligible(mock)
	mock.ExpectQuery("UPDATE campaigns SET codes_remaining").
		WillReturnRows(sqlmock.NewRows([]string{"codes_remaining"}).AddRow(0))
	mock.ExpectQuery("SET code_seq").WillReturnRows(sqlmock.NewRows([]string{"code_seq"}).AddRow(100))
	mock.ExpectExec("INSERT INTO claims").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("state = 'reserved'$").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("UPDATE campaigns SET status").
		WithArgs(int64(1), "ended", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_log").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	res, err := a.Reserve(context.Background(), Request{CampaignID: 1, Identity: alice, Trusted: true})
	require.NoError(t, err)

	assert.Equal(t, model.ClaimVerified, res.Claim.State)
	assert.True(t, res.Claim.Verified)
	assert.Equal(t, fixedNow.Add(24*time.Hour), res.Claim.ExpiresAt)
	assert.True(t, decimal.NewFromInt(10).Equal(res.Claim.DiscountValue))
	assert.Equal(t, model.StatusEnded, res.Campaign.Status)
}

func TestReserve_LastCodePendingKeepsCampaignActive(t *testing.T) {
	a, mock := newTestAllocator(t)

	mock.ExpectQuery("FROM campaigns WHERE id = \\$1$").WillReturnRows(testutil.CampaignRows(campaignWith(1, model.StatusActive)))
	expectEligible(mock)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(testutil.CampaignRows(campaignWith(1, model.StatusActive)))
	expectEligible(mock)
	mock.ExpectQuery("UPDATE campaigns SET codes_remaining").
		WillReturnRows(sqlmock.NewRows([]string{"codes_remaining"}).AddRow(0))
	mock.ExpectQuery("SET code_seq").WillReturnRows(sqlmock.NewRows([]string{"code_seq"}).AddRow(100))
	mock.ExpectExec("INSERT INTO claims").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO verification_tokens").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("state = 'reserved'$").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	res, err := a.Reserve(context.Background(), Request{CampaignID: 1, Identity: alice, TokenHash: aliceToken})
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, res.Campaign.Status)
	assert.Equal(t, int32(0), res.Campaign.CodesRemaining)
}

func TestReserve_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(mock sqlmock.Sqlmock)
		wantErr error
	}{
		{
			name: "paused campaign",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("FROM campaigns").WillReturnRows(testutil.CampaignRows(campaignWith(10, model.StatusPaused)))
			},
			wantErr: model.ErrCampaignInactive,
		},
		{
			name: "ended and empty reports sold out",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("FROM campaigns").WillReturnRows(testutil.CampaignRows(campaignWith(0, model.StatusEnded)))
			},
			wantErr: model.ErrSoldOut,
		},
		{
			name: "sold out under lock",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("FROM campaigns").WillReturnRows(testutil.CampaignRows(campaignWith(1, model.StatusActive)))
				expectEligible(mock)
				mock.ExpectBegin()
				mock.ExpectQuery("FOR UPDATE").WillReturnRows(testutil.CampaignRows(campaignWith(0, model.StatusActive)))
				mock.ExpectRollback()
			},
			wantErr: model.ErrSoldOut,
		},
		{
			name: "verified under lock",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("FROM campaigns").WillReturnRows(testutil.CampaignRows(campaignWith(5, model.StatusActive)))
				expectEligible(mock)
				mock.ExpectBegin()
				mock.ExpectQuery("FOR UPDATE").WillReturnRows(testutil.CampaignRows(campaignWith(5, model.StatusActive)))
				mock.ExpectQuery("AND verified\\)").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
				mock.ExpectRollback()
			},
			wantErr: model.ErrAlreadyClaimed,
		},
		{
			name: "guarded decrement rejected",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("FROM campaigns").WillReturnRows(testutil.CampaignRows(campaignWith(5, model.StatusActive)))
				expectEligible(mock)
				mock.ExpectBegin()
				mock.ExpectQuery("FOR UPDATE").WillReturnRows(testutil.CampaignRows(campaignWith(5, model.StatusActive)))
				expectEligible(mock)
				mock.ExpectQuery("UPDATE campaigns SET codes_remaining").WillReturnRows(sqlmock.NewRows([]string{"codes_remaining"}))
				mock.ExpectRollback()
			},
			wantErr: model.ErrSoldOut,
		},
		{
			name: "insert failure is transient",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("FROM campaigns").WillReturnRows(testutil.CampaignRows(campaignWith(5, model.StatusActive)))
				expectEligible(mock)
				mock.ExpectBegin()
				mock.ExpectQuery("FOR UPDATE").WillReturnRows(testutil.CampaignRows(campaignWith(5, model.StatusActive)))
				expectEligible(mock)
				mock.ExpectQuery("UPDATE campaigns SET codes_remaining").WillReturnRows(sqlmock.NewRows([]string{"codes_remaining"}).AddRow(4))
				mock.ExpectQuery("SET code_seq").WillReturnRows(sqlmock.NewRows([]string{"code_seq"}).AddRow(1))
				mock.ExpectExec("INSERT INTO claims").WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			wantErr: model.ErrTransient,
		},
		{
			name: "token store failure rolls the reservation back",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("FROM campaigns").WillReturnRows(testutil.CampaignRows(campaignWith(5, model.StatusActive)))
				expectEligible(mock)
				mock.ExpectBegin()
				mock.ExpectQuery("FOR UPDATE").WillReturnRows(testutil.CampaignRows(campaignWith(5, model.StatusActive)))
				expectEligible(mock)
				mock.ExpectQuery("UPDATE campaigns SET codes_remaining").WillReturnRows(sqlmock.NewRows([]string{"codes_remaining"}).AddRow(4))
				mock.ExpectQuery("SET code_seq").WillReturnRows(sqlmock.NewRows([]string{"code_seq"}).AddRow(1))
				mock.ExpectExec("INSERT INTO claims").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO verification_tokens").WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			wantErr: model.ErrTransient,
		},
		{
			name: "begin failure is transient",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("FROM campaigns").WillReturnRows(testutil.CampaignRows(campaignWith(5, model.StatusActive)))
				expectEligible(mock)
				mock.ExpectBegin().WillReturnError(errors.New("too many connections"))
			},
			wantErr: model.ErrTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, mock := newTestAllocator(t)
			tt.setup(mock)

			_, err := a.Reserve(context.Background(), Request{CampaignID: 1, Identity: alice, TokenHash: aliceToken})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NoError(t, mock.ExpectationsWereMet(), "nothing commits on failure")
		})
	}
}

func TestReserve_RequiresToken(t *testing.T) {
	a, mock := newTestAllocator(t)

	_, err := a.Reserve(context.Background(), Request{CampaignID: 1, Identity: alice})
	assert.ErrorIs(t, err, ErrTokenRequired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReserve_SkipsIssuedCode(t *testing.T) {
	a, mock := newTestAllocator(t)

	mock.ExpectQuery("FROM campaigns WHERE id = \\$1$").WillReturnRows(testutil.CampaignRows(campaignWith(30, model.StatusActive)))
	expectEligible(mock)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(testutil.CampaignRows(campaignWith(30, model.StatusActive)))
	expectEligible(mock)
	mock.ExpectQuery("UPDATE campaigns SET codes_remaining").WillReturnRows(sqlmock.NewRows([]string{"codes_remaining"}).AddRow(29))
	mock.ExpectQuery("SET code_seq").WillReturnRows(sqlmock.NewRows([]string{"code_seq"}).AddRow(71))
	mock.ExpectExec("INSERT INTO claims").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SET code_seq").WillReturnRows(sqlmock.NewRows([]string{"code_seq"}).AddRow(72))
	mock.ExpectExec("INSERT INTO claims").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := a.Reserve(context.Background(), Request{CampaignID: 1, Identity: alice, Trusted: true})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	want, err := a.codes.Generate(1, 72)
	require.NoError(t, err)
	assert.Equal(t, want, res.Claim.IssuedCode)
}

func TestReserve_GivesUpOnRepeatedCollisions(t *testing.T) {
	a, mock := newTestAllocator(t)

	mock.ExpectQuery("FROM campaigns WHERE id = \\$1$").WillReturnRows(testutil.CampaignRows(campaignWith(30, model.StatusActive)))
	expectEligible(mock)
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(testutil.CampaignRows(campaignWith(30, model.StatusActive)))
	expectEligible(mock)
	mock.ExpectQuery("UPDATE campaigns SET codes_remaining").WillReturnRows(sqlmock.NewRows([]string{"codes_remaining"}).AddRow(29))
	for i := 0; i < maxCodeAttempts; i++ {
		mock.ExpectQuery("SET code_seq").WillReturnRows(sqlmock.NewRows([]string{"code_seq"}).AddRow(int64(71 + i)))
		mock.ExpectExec("INSERT INTO claims").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectRollback()

	_, err := a.Reserve(context.Background(), Request{CampaignID: 1, Identity: alice, Trusted: true})
	assert.ErrorIs(t, err, model.ErrTransient)
	assert.NoError(t, mock.ExpectationsWereMet())
}
