package service

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/keymeter/license-meter-api/internal/config"
	"github.com/keymeter/license-meter-api/internal/domain/user"
	"github.com/keymeter/license-meter-api/internal/ierr"
	"github.com/keymeter/license-meter-api/internal/storage/memstorage"
	"go.uber.org/zap"
)

type UserClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

type AuthService struct {
	userRepo user.Repository
	cfg      *config.JWTConfig
	logger   *zap.Logger
}

func NewAuthService(userRepo user.Repository, cfg *config.JWTConfig, logger *zap.Logger) (*AuthService, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("%w: jwt.secret is required", ierr.ErrMisconfigured)
	}

	return &AuthService{
		userRepo: userRepo,
		cfg:      cfg,
		logger:   logger.Named("AuthService"),
	}, nil
}

func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	u, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		s.logger.Debug("Login attempt for unknown user", zap.String("username", username))
		return "", ierr.ErrInvalidCredentials
	}

	if !memstorage.CheckPassword(u.PasswordHash, password) {
		s.logger.Info("Login attempt with wrong password", zap.String("username", username))
		return "", ierr.ErrInvalidCredentials
	}

	now := time.Now()
	claims := UserClaims{
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenLifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		s.logger.Error("Failed to sign access token", zap.Error(err))
		return "", fmt.Errorf("%w: token signing failed", ierr.ErrInternalServer)
	}

	s.logger.Info("User logged in", zap.String("username", u.Username))
	return signed, nil
}

func (s *AuthService) ValidateToken(ctx context.Context, rawToken string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(rawToken, &UserClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil {
		s.logger.Warn("Failed to parse or verify access token", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ierr.ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, ierr.ErrTokenInvalidClaims
	}

	return claims, nil
}
