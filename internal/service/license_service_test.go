package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/keymeter/license-meter-api/internal/config"
	"github.com/keymeter/license-meter-api/internal/handler/dto"
	"github.com/keymeter/license-meter-api/internal/ierr"
	"github.com/keymeter/license-meter-api/internal/keys"
	"github.com/keymeter/license-meter-api/internal/storage/memstorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*LicenseService, *memstorage.LicenseRepository) {
	t.Helper()

	cfg := &config.LicenseKeysConfig{
		Secret:          "test-secret",
		Algorithm:       "sha256",
		DefaultUseLimit: 10,
	}
	deriver, err := keys.NewDeriver(cfg)
	require.NoError(t, err)

	repo := memstorage.NewLicenseRepository()
	return NewLicenseService(repo, deriver, cfg, zap.NewNop()), repo
}

func issue(t *testing.T, svc *LicenseService, rawKey string, useLimit int) {
	t.Helper()
	_, err := svc.IssueLicense(context.Background(), &dto.IssueLicenseRequest{
		RawKey:      rawKey,
		LicenseType: "DEMO_LICENSE",
		UseLimit:    &useLimit,
	})
	require.NoError(t, err)
}

func TestIssueDefaultsAndHint(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	lic, err := svc.IssueLicense(ctx, &dto.IssueLicenseRequest{RawKey: "ABCDEFGHIJKLM"})
	require.NoError(t, err)

	assert.Equal(t, 10, lic.UseLimit, "use limit defaults from config")
	assert.Equal(t, "ABCDXXXXXXXLM", lic.KeyHint)
	assert.False(t, lic.ExpirationDate.Valid, "no default validity means never expires")
	assert.Equal(t, 0, lic.UseCounts)
	assert.False(t, lic.IsUsed)
	assert.NotEqual(t, "ABCDEFGHIJKLM", lic.LicenseKey, "raw key is never stored")
}

func TestIssueDuplicateKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issue(t, svc, "ABCDEFGHIJKLM", 5)

	_, err := svc.IssueLicense(ctx, &dto.IssueLicenseRequest{RawKey: "ABCDEFGHIJKLM"})
	assert.ErrorIs(t, err, ierr.ErrDuplicateKey)
}

func TestIssueDefaultValidity(t *testing.T) {
	cfg := &config.LicenseKeysConfig{
		Secret:          "test-secret",
		Algorithm:       "sha256",
		DefaultUseLimit: 10,
		DefaultValidity: 30 * 24 * time.Hour,
	}
	deriver, err := keys.NewDeriver(cfg)
	require.NoError(t, err)
	svc := NewLicenseService(memstorage.NewLicenseRepository(), deriver, cfg, zap.NewNop())

	lic, err := svc.IssueLicense(context.Background(), &dto.IssueLicenseRequest{RawKey: "ABCDEFGHIJKLM"})
	require.NoError(t, err)

	require.True(t, lic.ExpirationDate.Valid)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), lic.ExpirationDate.Time, time.Minute)
}

func TestRedeemWalkthrough(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issue(t, svc, "ABCDEFGHIJKLM", 2)

	lic, err := svc.RedeemLicense(ctx, "ABCDEFGHIJKLM")
	require.NoError(t, err)
	assert.Equal(t, 1, lic.UseCounts)
	assert.False(t, lic.IsUsed)

	lic, err = svc.RedeemLicense(ctx, "ABCDEFGHIJKLM")
	require.NoError(t, err)
	assert.Equal(t, 2, lic.UseCounts)
	assert.True(t, lic.IsUsed)

	_, err = svc.RedeemLicense(ctx, "ABCDEFGHIJKLM")
	assert.ErrorIs(t, err, ierr.ErrNotEligible)
}

func TestRedeemConcurrent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issue(t, svc, "ABCDEFGHIJKLM", 5)

	const attempts = 20
	results := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RedeemLicense(ctx, "ABCDEFGHIJKLM")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes, rejections := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case assert.ErrorIs(t, err, ierr.ErrNotEligible):
			rejections++
		}
	}

	assert.Equal(t, 5, successes)
	assert.Equal(t, 15, rejections)

	lic, err := svc.ValidateLicense(ctx, "ABCDEFGHIJKLM")
	assert.ErrorIs(t, err, ierr.ErrNotEligible)
	assert.Nil(t, lic)
}

func TestValidateDoesNotMutate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issue(t, svc, "ABCDEFGHIJKLM", 5)

	for i := 0; i < 3; i++ {
		lic, err := svc.ValidateLicense(ctx, "ABCDEFGHIJKLM")
		require.NoError(t, err)
		assert.Equal(t, 0, lic.UseCounts)
		assert.False(t, lic.LastUsedAt.Valid)
	}
}

func TestValidateOpaqueFailures(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Unknown key.
	_, err := svc.ValidateLicense(ctx, "NEVERISSUEDKEY")
	assert.ErrorIs(t, err, ierr.ErrNotEligible)

	// Expired key, even with remaining capacity.
	past := time.Now().Add(-time.Hour)
	limit := 5
	_, err = svc.IssueLicense(ctx, &dto.IssueLicenseRequest{
		RawKey:         "EXPIREDLICENSE",
		UseLimit:       &limit,
		ExpirationDate: &past,
	})
	require.NoError(t, err)
	_, err = svc.ValidateLicense(ctx, "EXPIREDLICENSE")
	assert.ErrorIs(t, err, ierr.ErrNotEligible)

	// Blocked key.
	issue(t, svc, "BLOCKEDLICENSE", 5)
	_, err = svc.ToggleBlock(ctx, "BLOCKEDLICENSE", true)
	require.NoError(t, err)
	_, err = svc.ValidateLicense(ctx, "BLOCKEDLICENSE")
	assert.ErrorIs(t, err, ierr.ErrNotEligible)
}

func TestToggleBlockNoChange(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issue(t, svc, "ABCDEFGHIJKLM", 5)

	before, err := svc.ValidateLicense(ctx, "ABCDEFGHIJKLM")
	require.NoError(t, err)

	changed, err := svc.ToggleBlock(ctx, "ABCDEFGHIJKLM", true)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = svc.ToggleBlock(ctx, "ABCDEFGHIJKLM", true)
	require.NoError(t, err)
	assert.False(t, changed, "repeat toggle is a no-op")

	changed, err = svc.ToggleBlock(ctx, "ABCDEFGHIJKLM", false)
	require.NoError(t, err)
	assert.True(t, changed)

	// The no-op toggle must not have touched usage fields.
	after, err := svc.ValidateLicense(ctx, "ABCDEFGHIJKLM")
	require.NoError(t, err)
	assert.Equal(t, before.UseCounts, after.UseCounts)
	assert.Equal(t, before.LastUsedAt, after.LastUsedAt)

	_, err = svc.ToggleBlock(ctx, "UNKNOWNKEY", true)
	assert.ErrorIs(t, err, ierr.ErrNotFound)
}

func TestResetUsageRestoresInvariant(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issue(t, svc, "ABCDEFGHIJKLM", 2)

	_, err := svc.RedeemLicense(ctx, "ABCDEFGHIJKLM")
	require.NoError(t, err)
	lic, err := svc.RedeemLicense(ctx, "ABCDEFGHIJKLM")
	require.NoError(t, err)
	assert.True(t, lic.IsUsed)

	lic, err = svc.ResetUsage(ctx, "ABCDEFGHIJKLM")
	require.NoError(t, err)
	assert.Equal(t, 0, lic.UseCounts)
	assert.False(t, lic.IsUsed, "reset clears the cached exhaustion flag")

	lic, err = svc.RedeemLicense(ctx, "ABCDEFGHIJKLM")
	require.NoError(t, err)
	assert.Equal(t, 1, lic.UseCounts)
}

func TestAdjustLimit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issue(t, svc, "ABCDEFGHIJKLM", 5)

	lic, err := svc.IncreaseLimit(ctx, "ABCDEFGHIJKLM", 5)
	require.NoError(t, err)
	assert.Equal(t, 10, lic.UseLimit)

	// Delta equal to the whole limit would land at zero.
	_, _, err = svc.DecreaseLimit(ctx, "ABCDEFGHIJKLM", 10)
	assert.ErrorIs(t, err, ierr.ErrInvalidLimit)

	// Decrease under current usage succeeds with a warning.
	for i := 0; i < 4; i++ {
		_, err = svc.RedeemLicense(ctx, "ABCDEFGHIJKLM")
		require.NoError(t, err)
	}
	lic, limitBelowUsage, err := svc.DecreaseLimit(ctx, "ABCDEFGHIJKLM", 7)
	require.NoError(t, err)
	assert.True(t, limitBelowUsage)
	assert.Equal(t, 3, lic.UseLimit)
	assert.Equal(t, 4, lic.UseCounts)
	assert.True(t, lic.IsUsed)

	_, err = svc.RedeemLicense(ctx, "ABCDEFGHIJKLM")
	assert.ErrorIs(t, err, ierr.ErrNotEligible)

	// A plain decrease above usage carries no warning.
	issue(t, svc, "SECONDLICENSE", 10)
	lic, limitBelowUsage, err = svc.DecreaseLimit(ctx, "SECONDLICENSE", 3)
	require.NoError(t, err)
	assert.False(t, limitBelowUsage)
	assert.Equal(t, 7, lic.UseLimit)

	_, err = svc.IncreaseLimit(ctx, "ABCDEFGHIJKLM", 0)
	assert.ErrorIs(t, err, ierr.ErrValidation)
}

func TestDashboardSummary(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issue(t, svc, "FIRSTLICENSE", 5)
	issue(t, svc, "SECONDLICENSE", 1)

	_, err := svc.RedeemLicense(ctx, "SECONDLICENSE")
	require.NoError(t, err)

	summary, err := svc.GetDashboardSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.TotalLicenses)
	assert.Equal(t, int64(1), summary.StateCounts["active_unused"])
	assert.Equal(t, int64(1), summary.StateCounts["exhausted"])
}
