package memstorage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/keymeter/license-meter-api/internal/domain/license"
	"github.com/keymeter/license-meter-api/internal/ierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLicense(storedKey string, useLimit int) *license.License {
	return &license.License{
		LicenseKey:  storedKey,
		LicenseType: license.TypeDemo,
		KeyHint:     "ABCDXXXKL",
		UseLimit:    useLimit,
	}
}

func TestCreateAndFind(t *testing.T) {
	repo := NewLicenseRepository()
	ctx := context.Background()

	id, err := repo.Create(ctx, newTestLicense("stored-key-1", 5))
	require.NoError(t, err)

	byID, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "stored-key-1", byID.LicenseKey)
	assert.Equal(t, 0, byID.UseCounts)
	assert.False(t, byID.IsUsed)
	assert.False(t, byID.CreatedAt.IsZero())

	byKey, err := repo.FindByKey(ctx, "stored-key-1")
	require.NoError(t, err)
	assert.Equal(t, id, byKey.ID)

	_, err = repo.FindByKey(ctx, "missing")
	assert.ErrorIs(t, err, ierr.ErrNotFound)
}

func TestCreateDuplicateKey(t *testing.T) {
	repo := NewLicenseRepository()
	ctx := context.Background()

	_, err := repo.Create(ctx, newTestLicense("stored-key-1", 5))
	require.NoError(t, err)

	_, err = repo.Create(ctx, newTestLicense("stored-key-1", 5))
	assert.ErrorIs(t, err, ierr.ErrDuplicateKey)
}

func TestIncrementIfEligible(t *testing.T) {
	repo := NewLicenseRepository()
	ctx := context.Background()
	now := time.Now()

	_, err := repo.Create(ctx, newTestLicense("k", 2))
	require.NoError(t, err)

	lic, err := repo.IncrementIfEligible(ctx, "k", now)
	require.NoError(t, err)
	assert.Equal(t, 1, lic.UseCounts)
	assert.False(t, lic.IsUsed)
	assert.True(t, lic.LastUsedAt.Valid)

	lic, err = repo.IncrementIfEligible(ctx, "k", now)
	require.NoError(t, err)
	assert.Equal(t, 2, lic.UseCounts)
	assert.True(t, lic.IsUsed)

	_, err = repo.IncrementIfEligible(ctx, "k", now)
	assert.ErrorIs(t, err, ierr.ErrNotEligible)

	_, err = repo.IncrementIfEligible(ctx, "missing", now)
	assert.ErrorIs(t, err, ierr.ErrNotFound)
}

func TestIncrementRespectsOverlays(t *testing.T) {
	repo := NewLicenseRepository()
	ctx := context.Background()
	now := time.Now()

	blocked := newTestLicense("blocked", 5)
	blocked.IsBlocked = true
	_, err := repo.Create(ctx, blocked)
	require.NoError(t, err)

	expired := newTestLicense("expired", 5)
	expired.ExpirationDate = sql.NullTime{Time: now.Add(-time.Hour), Valid: true}
	_, err = repo.Create(ctx, expired)
	require.NoError(t, err)

	_, err = repo.IncrementIfEligible(ctx, "blocked", now)
	assert.ErrorIs(t, err, ierr.ErrNotEligible)

	_, err = repo.IncrementIfEligible(ctx, "expired", now)
	assert.ErrorIs(t, err, ierr.ErrNotEligible)
}

func TestSetBlockedNoChange(t *testing.T) {
	repo := NewLicenseRepository()
	ctx := context.Background()

	_, err := repo.Create(ctx, newTestLicense("k", 5))
	require.NoError(t, err)

	lic, err := repo.SetBlocked(ctx, "k", true)
	require.NoError(t, err)
	assert.True(t, lic.IsBlocked)

	_, err = repo.SetBlocked(ctx, "k", true)
	assert.ErrorIs(t, err, ierr.ErrNoChange)

	lic, err = repo.SetBlocked(ctx, "k", false)
	require.NoError(t, err)
	assert.False(t, lic.IsBlocked)

	_, err = repo.SetBlocked(ctx, "missing", true)
	assert.ErrorIs(t, err, ierr.ErrNotFound)
}

func TestResetUsageClearsIsUsed(t *testing.T) {
	repo := NewLicenseRepository()
	ctx := context.Background()
	now := time.Now()

	_, err := repo.Create(ctx, newTestLicense("k", 1))
	require.NoError(t, err)

	_, err = repo.IncrementIfEligible(ctx, "k", now)
	require.NoError(t, err)

	lic, err := repo.ResetUsage(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 0, lic.UseCounts)
	assert.False(t, lic.IsUsed)

	// Usable again after reset.
	_, err = repo.IncrementIfEligible(ctx, "k", now)
	require.NoError(t, err)
}

func TestAdjustLimit(t *testing.T) {
	repo := NewLicenseRepository()
	ctx := context.Background()
	now := time.Now()

	_, err := repo.Create(ctx, newTestLicense("k", 5))
	require.NoError(t, err)

	lic, err := repo.AdjustLimit(ctx, "k", 5)
	require.NoError(t, err)
	assert.Equal(t, 10, lic.UseLimit)

	// Floor: limit may never reach zero.
	_, err = repo.AdjustLimit(ctx, "k", -10)
	assert.ErrorIs(t, err, ierr.ErrInvalidLimit)

	// Decrease below current usage is allowed; the record becomes
	// exhausted via the recomputed is_used projection.
	for i := 0; i < 3; i++ {
		_, err = repo.IncrementIfEligible(ctx, "k", now)
		require.NoError(t, err)
	}
	lic, err = repo.AdjustLimit(ctx, "k", -8)
	require.NoError(t, err)
	assert.Equal(t, 2, lic.UseLimit)
	assert.Equal(t, 3, lic.UseCounts)
	assert.True(t, lic.IsUsed)

	_, err = repo.IncrementIfEligible(ctx, "k", now)
	assert.ErrorIs(t, err, ierr.ErrNotEligible)
}

func TestApplyPatch(t *testing.T) {
	repo := NewLicenseRepository()
	ctx := context.Background()

	id, err := repo.Create(ctx, newTestLicense("k", 5))
	require.NoError(t, err)

	newType := license.TypeClientSubscription
	newLimit := 20
	expiry := time.Now().Add(48 * time.Hour)

	lic, err := repo.ApplyPatch(ctx, id, &license.Patch{
		LicenseType:    &newType,
		UseLimit:       &newLimit,
		ExpirationDate: &expiry,
	})
	require.NoError(t, err)
	assert.Equal(t, newType, lic.LicenseType)
	assert.Equal(t, 20, lic.UseLimit)
	assert.True(t, lic.ExpirationDate.Valid)

	lic, err = repo.ApplyPatch(ctx, id, &license.Patch{ClearExpiration: true})
	require.NoError(t, err)
	assert.False(t, lic.ExpirationDate.Valid)

	badLimit := 0
	_, err = repo.ApplyPatch(ctx, id, &license.Patch{UseLimit: &badLimit})
	assert.ErrorIs(t, err, ierr.ErrInvalidLimit)
}

func TestListFilters(t *testing.T) {
	repo := NewLicenseRepository()
	ctx := context.Background()
	now := time.Now()

	a := newTestLicense("a", 1)
	a.KeyHint = "AAAAXXBB"
	_, err := repo.Create(ctx, a)
	require.NoError(t, err)

	b := newTestLicense("b", 5)
	b.KeyHint = "CCCCXXDD"
	_, err = repo.Create(ctx, b)
	require.NoError(t, err)

	_, err = repo.IncrementIfEligible(ctx, "a", now)
	require.NoError(t, err)

	used := true
	matched, total, err := repo.List(ctx, license.ListParams{IsUsed: &used})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, matched, 1)
	assert.Equal(t, "AAAAXXBB", matched[0].KeyHint)

	hint := "cccc"
	matched, total, err = repo.List(ctx, license.ListParams{HintContains: &hint})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, matched, 1)
	assert.Equal(t, "CCCCXXDD", matched[0].KeyHint)
}

func TestSummarize(t *testing.T) {
	repo := NewLicenseRepository()
	ctx := context.Background()
	now := time.Now()

	fresh := newTestLicense("fresh", 5)
	_, err := repo.Create(ctx, fresh)
	require.NoError(t, err)

	blocked := newTestLicense("blocked", 5)
	blocked.IsBlocked = true
	_, err = repo.Create(ctx, blocked)
	require.NoError(t, err)

	spent := newTestLicense("spent", 1)
	_, err = repo.Create(ctx, spent)
	require.NoError(t, err)
	_, err = repo.IncrementIfEligible(ctx, "spent", now)
	require.NoError(t, err)

	summary, err := repo.Summarize(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.TotalLicenses)
	assert.Equal(t, int64(1), summary.StateCounts[license.StateActiveUnused])
	assert.Equal(t, int64(1), summary.StateCounts[license.StateBlocked])
	assert.Equal(t, int64(1), summary.StateCounts[license.StateExhausted])
	assert.Equal(t, int64(3), summary.TypeCounts[license.TypeDemo])
}
