package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/keymeter/license-meter-api/internal/config"
	"github.com/keymeter/license-meter-api/internal/domain/license"
	"github.com/keymeter/license-meter-api/internal/handler/dto"
	"github.com/keymeter/license-meter-api/internal/ierr"
	"github.com/keymeter/license-meter-api/internal/keys"
	"github.com/keymeter/license-meter-api/internal/metrics"
	"go.uber.org/zap"
)

// LicenseService is the lifecycle engine: it derives the stored key for every
// operation and drives the repository's atomic primitives. It keeps no state
// of its own between calls; the repository is the only shared mutable
// resource.
type LicenseService struct {
	repo    license.Repository
	deriver *keys.Deriver
	cfg     *config.LicenseKeysConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewLicenseService(repo license.Repository, deriver *keys.Deriver, cfg *config.LicenseKeysConfig, logger *zap.Logger) *LicenseService {
	return &LicenseService{
		repo:    repo,
		deriver: deriver,
		cfg:     cfg,
		logger:  logger.Named("LicenseService"),
		now:     time.Now,
	}
}

// IssueLicense creates a record for a new raw key. The raw key is hashed into
// the stored key and reduced to a display hint; it is never persisted and the
// created record never echoes it back.
func (s *LicenseService) IssueLicense(ctx context.Context, req *dto.IssueLicenseRequest) (*license.License, error) {
	hint := keys.MaskHint(req.RawKey)
	s.logger.Info("Attempting to issue a new license",
		zap.String("key_hint", hint),
		zap.String("license_type", req.LicenseType),
	)

	licType := license.TypeUnknown
	if req.LicenseType != "" {
		licType = license.LicenseType(req.LicenseType)
	}

	useLimit := s.cfg.DefaultUseLimit
	if req.UseLimit != nil {
		useLimit = *req.UseLimit
	}
	if useLimit < 1 {
		return nil, fmt.Errorf("%w: use limit must be at least 1", ierr.ErrValidation)
	}

	newLicense := &license.License{
		LicenseKey:  s.deriver.Derive(req.RawKey),
		LicenseType: licType,
		KeyHint:     hint,
		UseLimit:    useLimit,
	}

	if req.ExpirationDate != nil {
		newLicense.ExpirationDate = sql.NullTime{Time: *req.ExpirationDate, Valid: true}
	} else if s.cfg.DefaultValidity > 0 {
		newLicense.ExpirationDate = sql.NullTime{Time: s.now().Add(s.cfg.DefaultValidity), Valid: true}
	}

	insertedID, err := s.repo.Create(ctx, newLicense)
	if err != nil {
		if errors.Is(err, ierr.ErrDuplicateKey) {
			s.logger.Warn("License issue rejected, key already registered", zap.String("key_hint", hint))
			return nil, err
		}
		s.logger.Error("Failed to create license via repository", zap.Error(err))
		return nil, err
	}

	createdLicense, err := s.repo.FindByID(ctx, insertedID)
	if err != nil {
		s.logger.Error("Failed to find newly created license by ID", zap.String("id", insertedID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve created license (id: %s): %w", insertedID, err)
	}

	metrics.LicensesIssued.Inc()
	s.logger.Info("License issued successfully",
		zap.String("id", createdLicense.ID.String()),
		zap.String("key_hint", createdLicense.KeyHint),
	)
	return createdLicense, nil
}

// ValidateLicense checks eligibility without consuming a use. Every failure
// (unknown key, blocked, expired, exhausted) reports the same ErrNotEligible
// so a caller cannot probe which condition failed.
func (s *LicenseService) ValidateLicense(ctx context.Context, rawKey string) (*license.License, error) {
	storedKey := s.deriver.Derive(rawKey)

	lic, err := s.repo.FindByKey(ctx, storedKey)
	if err != nil {
		if errors.Is(err, ierr.ErrNotFound) {
			metrics.Validations.WithLabelValues(metrics.OutcomeNotEligible).Inc()
			return nil, ierr.ErrNotEligible
		}
		metrics.Validations.WithLabelValues(metrics.OutcomeError).Inc()
		s.logger.Error("Failed to look up license for validation", zap.Error(err))
		return nil, err
	}

	if !lic.Eligible(s.now()) {
		metrics.Validations.WithLabelValues(metrics.OutcomeNotEligible).Inc()
		s.logger.Debug("License not eligible", zap.String("key_hint", lic.KeyHint))
		return nil, ierr.ErrNotEligible
	}

	metrics.Validations.WithLabelValues(metrics.OutcomeEligible).Inc()
	return lic, nil
}

// RedeemLicense consumes one use. The eligibility re-check and the increment
// happen inside the repository's single atomic step, so concurrent redeems
// for the same key serialize and the counter never passes the limit.
func (s *LicenseService) RedeemLicense(ctx context.Context, rawKey string) (*license.License, error) {
	storedKey := s.deriver.Derive(rawKey)

	lic, err := s.repo.IncrementIfEligible(ctx, storedKey, s.now())
	if err != nil {
		if errors.Is(err, ierr.ErrNotFound) || errors.Is(err, ierr.ErrNotEligible) {
			metrics.Redemptions.WithLabelValues(metrics.OutcomeNotEligible).Inc()
			return nil, ierr.ErrNotEligible
		}
		metrics.Redemptions.WithLabelValues(metrics.OutcomeError).Inc()
		s.logger.Error("Failed to redeem license", zap.Error(err))
		return nil, err
	}

	metrics.Redemptions.WithLabelValues(metrics.OutcomeEligible).Inc()
	s.logger.Info("License redeemed",
		zap.String("key_hint", lic.KeyHint),
		zap.Int("use_counts", lic.UseCounts),
		zap.Int("use_limit", lic.UseLimit),
	)
	return lic, nil
}

// ToggleBlock sets the block flag. Returns changed=false without writing when
// the flag already has the requested value.
func (s *LicenseService) ToggleBlock(ctx context.Context, rawKey string, blocked bool) (changed bool, err error) {
	storedKey := s.deriver.Derive(rawKey)

	lic, err := s.repo.SetBlocked(ctx, storedKey, blocked)
	if err != nil {
		if errors.Is(err, ierr.ErrNoChange) {
			s.logger.Info("Block toggle was a no-op", zap.Bool("blocked", blocked))
			return false, nil
		}
		return false, err
	}

	s.logger.Info("License block flag updated",
		zap.String("key_hint", lic.KeyHint),
		zap.Bool("blocked", blocked),
	)
	return true, nil
}

func (s *LicenseService) ResetUsage(ctx context.Context, rawKey string) (*license.License, error) {
	storedKey := s.deriver.Derive(rawKey)

	lic, err := s.repo.ResetUsage(ctx, storedKey)
	if err != nil {
		return nil, err
	}

	s.logger.Info("License usage reset", zap.String("key_hint", lic.KeyHint))
	return lic, nil
}

// IncreaseLimit raises the usage limit by amount.
func (s *LicenseService) IncreaseLimit(ctx context.Context, rawKey string, amount int) (*license.License, error) {
	if amount < 1 {
		return nil, fmt.Errorf("%w: adjustment amount must be at least 1", ierr.ErrValidation)
	}

	storedKey := s.deriver.Derive(rawKey)
	lic, err := s.repo.AdjustLimit(ctx, storedKey, amount)
	if err != nil {
		return nil, err
	}

	s.logger.Info("License use limit increased",
		zap.String("key_hint", lic.KeyHint),
		zap.Int("use_limit", lic.UseLimit),
	)
	return lic, nil
}

// DecreaseLimit lowers the usage limit by amount. The repository rejects a
// result below 1 with ErrInvalidLimit. Lowering below the current usage is
// allowed; the returned warning flags that the record is now exhausted.
func (s *LicenseService) DecreaseLimit(ctx context.Context, rawKey string, amount int) (lic *license.License, limitBelowUsage bool, err error) {
	if amount < 1 {
		return nil, false, fmt.Errorf("%w: adjustment amount must be at least 1", ierr.ErrValidation)
	}

	storedKey := s.deriver.Derive(rawKey)
	lic, err = s.repo.AdjustLimit(ctx, storedKey, -amount)
	if err != nil {
		return nil, false, err
	}

	limitBelowUsage = lic.UseCounts >= lic.UseLimit
	if limitBelowUsage {
		s.logger.Warn("Use limit lowered to or below current usage, license is now exhausted",
			zap.String("key_hint", lic.KeyHint),
			zap.Int("use_counts", lic.UseCounts),
			zap.Int("use_limit", lic.UseLimit),
		)
	} else {
		s.logger.Info("License use limit decreased",
			zap.String("key_hint", lic.KeyHint),
			zap.Int("use_limit", lic.UseLimit),
		)
	}
	return lic, limitBelowUsage, nil
}

func (s *LicenseService) GetLicenseByID(ctx context.Context, id uuid.UUID) (*license.License, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *LicenseService) UpdateLicense(ctx context.Context, id uuid.UUID, req *dto.UpdateLicenseRequest) (*license.License, error) {
	patch := &license.Patch{
		KeyHint:         req.KeyHint,
		ExpirationDate:  req.ExpirationDate,
		ClearExpiration: req.ClearExpiration,
		UseLimit:        req.UseLimit,
	}
	if req.LicenseType != nil {
		licType := license.LicenseType(*req.LicenseType)
		patch.LicenseType = &licType
	}

	lic, err := s.repo.ApplyPatch(ctx, id, patch)
	if err != nil {
		return nil, err
	}

	s.logger.Info("License updated", zap.String("id", id.String()))
	return lic, nil
}

func (s *LicenseService) ListLicenses(ctx context.Context, req *dto.ListLicensesRequest) ([]*license.License, int64, error) {
	params := license.ListParams{
		IsUsed:       req.IsUsed,
		IsBlocked:    req.IsBlocked,
		HintContains: req.Hint,
		Limit:        req.Limit,
		Offset:       req.Offset,
		SortBy:       req.SortBy,
		SortOrder:    req.SortOrder,
	}
	if req.LicenseType != nil {
		licType := license.LicenseType(*req.LicenseType)
		params.LicenseType = &licType
	}

	return s.repo.List(ctx, params)
}

func (s *LicenseService) GetDashboardSummary(ctx context.Context) (*license.Summary, error) {
	return s.repo.Summarize(ctx, s.now())
}
