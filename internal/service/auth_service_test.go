package service

import (
	"context"
	"testing"
	"time"

	"github.com/keymeter/license-meter-api/internal/config"
	"github.com/keymeter/license-meter-api/internal/ierr"
	"github.com/keymeter/license-meter-api/internal/storage/memstorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()

	cfg := &config.JWTConfig{
		Secret:        "test-jwt-secret",
		TokenLifetime: time.Hour,
	}
	svc, err := NewAuthService(memstorage.NewUserRepositoryMock("admin", "hunter2"), cfg, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestAuthServiceRequiresSecret(t *testing.T) {
	_, err := NewAuthService(memstorage.NewUserRepositoryMock("admin", "hunter2"), &config.JWTConfig{}, zap.NewNop())
	assert.ErrorIs(t, err, ierr.ErrMisconfigured)
}

func TestLoginAndValidateRoundTrip(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	token, err := svc.Login(ctx, "admin", "hunter2")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
	assert.Equal(t, "admin", claims.Role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.Login(ctx, "admin", "wrong-password")
	assert.ErrorIs(t, err, ierr.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody", "hunter2")
	assert.ErrorIs(t, err, ierr.ErrInvalidCredentials)
}

func TestValidateTokenRejectsForgery(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	_, err := svc.ValidateToken(ctx, "not.a.token")
	assert.ErrorIs(t, err, ierr.ErrInvalidToken)

	// Token signed under a different secret.
	otherCfg := &config.JWTConfig{Secret: "another-secret", TokenLifetime: time.Hour}
	other, err := NewAuthService(memstorage.NewUserRepositoryMock("admin", "hunter2"), otherCfg, zap.NewNop())
	require.NoError(t, err)

	token, err := other.Login(ctx, "admin", "hunter2")
	require.NoError(t, err)

	_, err = svc.ValidateToken(ctx, token)
	assert.ErrorIs(t, err, ierr.ErrInvalidToken)
}
