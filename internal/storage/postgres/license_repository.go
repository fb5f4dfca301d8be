package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/keymeter/license-meter-api/internal/domain/license"
	"github.com/keymeter/license-meter-api/internal/ierr"
	"go.uber.org/zap"
)

const licenseColumns = `
    id, license_key, license_type, key_hint, is_used, is_blocked,
    expiration_date, use_counts, use_limit, created_at, last_used_at
`

type LicenseRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewLicenseRepository(db *pgxpool.Pool, logger *zap.Logger) *LicenseRepository {
	return &LicenseRepository{
		db:     db,
		logger: logger.Named("LicenseRepository"),
	}
}

var _ license.Repository = (*LicenseRepository)(nil)

func (r *LicenseRepository) Create(ctx context.Context, lic *license.License) (uuid.UUID, error) {
	query := `
        INSERT INTO licenses (
            license_key, license_type, key_hint, expiration_date, use_limit
        ) VALUES (
            $1, $2, $3, $4, $5
        ) RETURNING id
    `
	var insertedID uuid.UUID

	err := r.db.QueryRow(ctx, query,
		lic.LicenseKey,
		lic.LicenseType,
		lic.KeyHint,
		lic.ExpirationDate,
		lic.UseLimit,
	).Scan(&insertedID)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			r.logger.Warn("Attempted to create license with duplicate key",
				zap.String("key_hint", lic.KeyHint),
				zap.String("constraint", pgErr.ConstraintName),
			)
			return uuid.Nil, ierr.ErrDuplicateKey
		}

		r.logger.Error("Failed to create license in database", zap.Error(err))
		return uuid.Nil, fmt.Errorf("%w: create license: %v", ierr.ErrStoreUnavailable, err)
	}

	r.logger.Info("License created successfully", zap.String("id", insertedID.String()))
	return insertedID, nil
}

func (r *LicenseRepository) FindByID(ctx context.Context, id uuid.UUID) (*license.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE id = $1`
	return r.scanLicense(r.db.QueryRow(ctx, query, id))
}

func (r *LicenseRepository) FindByKey(ctx context.Context, storedKey string) (*license.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE license_key = $1`
	return r.scanLicense(r.db.QueryRow(ctx, query, storedKey))
}

// IncrementIfEligible is the one conditional statement the whole usage
// protocol hangs on: the eligibility predicate lives in the WHERE clause, so
// concurrent redemptions serialize on the row and the counter can never pass
// the limit.
func (r *LicenseRepository) IncrementIfEligible(ctx context.Context, storedKey string, now time.Time) (*license.License, error) {
	query := `
        UPDATE licenses SET
            use_counts = use_counts + 1,
            last_used_at = $2,
            is_used = use_counts + 1 >= use_limit
        WHERE license_key = $1
          AND is_blocked = FALSE
          AND use_counts < use_limit
          AND (expiration_date IS NULL OR expiration_date > $2)
        RETURNING ` + licenseColumns

	lic, err := r.scanLicense(r.db.QueryRow(ctx, query, storedKey, now))
	if err == nil {
		return lic, nil
	}
	if !errors.Is(err, ierr.ErrNotFound) {
		return nil, err
	}

	// No row matched: either the key does not exist or it is ineligible.
	exists, existsErr := r.keyExists(ctx, storedKey)
	if existsErr != nil {
		return nil, existsErr
	}
	if !exists {
		return nil, ierr.ErrNotFound
	}
	return nil, ierr.ErrNotEligible
}

func (r *LicenseRepository) SetBlocked(ctx context.Context, storedKey string, blocked bool) (*license.License, error) {
	query := `
        UPDATE licenses SET is_blocked = $2
        WHERE license_key = $1 AND is_blocked <> $2
        RETURNING ` + licenseColumns

	lic, err := r.scanLicense(r.db.QueryRow(ctx, query, storedKey, blocked))
	if err == nil {
		return lic, nil
	}
	if !errors.Is(err, ierr.ErrNotFound) {
		return nil, err
	}

	exists, existsErr := r.keyExists(ctx, storedKey)
	if existsErr != nil {
		return nil, existsErr
	}
	if !exists {
		return nil, ierr.ErrNotFound
	}
	return nil, ierr.ErrNoChange
}

func (r *LicenseRepository) ResetUsage(ctx context.Context, storedKey string) (*license.License, error) {
	// is_used is the cached projection of use_counts vs use_limit; reset
	// clears both in the same statement so the invariant never tears.
	query := `
        UPDATE licenses SET use_counts = 0, is_used = FALSE
        WHERE license_key = $1
        RETURNING ` + licenseColumns

	return r.scanLicense(r.db.QueryRow(ctx, query, storedKey))
}

func (r *LicenseRepository) AdjustLimit(ctx context.Context, storedKey string, delta int) (*license.License, error) {
	query := `
        UPDATE licenses SET
            use_limit = use_limit + $2,
            is_used = use_counts >= use_limit + $2
        WHERE license_key = $1 AND use_limit + $2 >= 1
        RETURNING ` + licenseColumns

	lic, err := r.scanLicense(r.db.QueryRow(ctx, query, storedKey, delta))
	if err == nil {
		return lic, nil
	}
	if !errors.Is(err, ierr.ErrNotFound) {
		return nil, err
	}

	exists, existsErr := r.keyExists(ctx, storedKey)
	if existsErr != nil {
		return nil, existsErr
	}
	if !exists {
		return nil, ierr.ErrNotFound
	}
	return nil, ierr.ErrInvalidLimit
}

func (r *LicenseRepository) ApplyPatch(ctx context.Context, id uuid.UUID, patch *license.Patch) (*license.License, error) {
	setClauses := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	args = append(args, id)

	addSet := func(column string, value interface{}) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.LicenseType != nil {
		addSet("license_type", *patch.LicenseType)
	}
	if patch.KeyHint != nil {
		addSet("key_hint", *patch.KeyHint)
	}
	if patch.ClearExpiration {
		setClauses = append(setClauses, "expiration_date = NULL")
	} else if patch.ExpirationDate != nil {
		addSet("expiration_date", *patch.ExpirationDate)
	}
	if patch.UseLimit != nil {
		if *patch.UseLimit < 1 {
			return nil, ierr.ErrInvalidLimit
		}
		addSet("use_limit", *patch.UseLimit)
		args = append(args, *patch.UseLimit)
		setClauses = append(setClauses, fmt.Sprintf("is_used = use_counts >= $%d", len(args)))
	}

	if len(setClauses) == 0 {
		return r.FindByID(ctx, id)
	}

	query := `UPDATE licenses SET ` + strings.Join(setClauses, ", ") +
		` WHERE id = $1 RETURNING ` + licenseColumns

	return r.scanLicense(r.db.QueryRow(ctx, query, args...))
}

func (r *LicenseRepository) List(ctx context.Context, params license.ListParams) ([]*license.License, int64, error) {
	whereClauses := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)

	addWhere := func(clause string, value interface{}) {
		args = append(args, value)
		whereClauses = append(whereClauses, fmt.Sprintf(clause, len(args)))
	}

	if params.IsUsed != nil {
		addWhere("is_used = $%d", *params.IsUsed)
	}
	if params.IsBlocked != nil {
		addWhere("is_blocked = $%d", *params.IsBlocked)
	}
	if params.LicenseType != nil {
		addWhere("license_type = $%d", *params.LicenseType)
	}
	if params.HintContains != nil && *params.HintContains != "" {
		addWhere("key_hint ILIKE $%d", "%"+*params.HintContains+"%")
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	var totalCount int64
	countQuery := `SELECT COUNT(*) FROM licenses` + whereSQL
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		r.logger.Error("Failed to count licenses", zap.Error(err))
		return nil, 0, fmt.Errorf("%w: count licenses: %v", ierr.ErrStoreUnavailable, err)
	}

	sortBy := "created_at"
	switch params.SortBy {
	case "created_at", "last_used_at", "use_counts", "use_limit", "expiration_date":
		sortBy = params.SortBy
	}
	sortOrder := "DESC"
	if strings.EqualFold(params.SortOrder, "ASC") {
		sortOrder = "ASC"
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	args = append(args, limit, params.Offset)
	query := fmt.Sprintf(
		`SELECT %s FROM licenses%s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		licenseColumns, whereSQL, sortBy, sortOrder, len(args)-1, len(args),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query list of licenses", zap.Error(err))
		return nil, 0, fmt.Errorf("%w: list licenses: %v", ierr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	licenses := make([]*license.License, 0)
	for rows.Next() {
		lic, err := scanLicenseRow(rows)
		if err != nil {
			r.logger.Error("Failed to scan license row during list", zap.Error(err))
			return nil, 0, fmt.Errorf("%w: scan license: %v", ierr.ErrStoreUnavailable, err)
		}
		licenses = append(licenses, lic)
	}

	if err = rows.Err(); err != nil {
		r.logger.Error("Error iterating license rows", zap.Error(err))
		return nil, 0, fmt.Errorf("%w: iterate licenses: %v", ierr.ErrStoreUnavailable, err)
	}

	return licenses, totalCount, nil
}

func (r *LicenseRepository) Summarize(ctx context.Context, now time.Time) (*license.Summary, error) {
	summary := &license.Summary{
		StateCounts: make(map[license.State]int64),
		TypeCounts:  make(map[license.LicenseType]int64),
		TakenAt:     now,
	}

	stateQuery := `
        SELECT
            COUNT(*),
            COUNT(*) FILTER (WHERE is_blocked),
            COUNT(*) FILTER (WHERE NOT is_blocked
                AND expiration_date IS NOT NULL AND expiration_date <= $1),
            COUNT(*) FILTER (WHERE NOT is_blocked
                AND (expiration_date IS NULL OR expiration_date > $1)
                AND use_counts >= use_limit),
            COUNT(*) FILTER (WHERE NOT is_blocked
                AND (expiration_date IS NULL OR expiration_date > $1)
                AND use_counts > 0 AND use_counts < use_limit),
            COUNT(*) FILTER (WHERE NOT is_blocked
                AND (expiration_date IS NULL OR expiration_date > $1)
                AND use_counts = 0)
        FROM licenses
    `
	err := r.db.QueryRow(ctx, stateQuery, now).Scan(
		&summary.TotalLicenses,
		scanInto(summary.StateCounts, license.StateBlocked),
		scanInto(summary.StateCounts, license.StateExpired),
		scanInto(summary.StateCounts, license.StateExhausted),
		scanInto(summary.StateCounts, license.StateActivePartial),
		scanInto(summary.StateCounts, license.StateActiveUnused),
	)
	if err != nil {
		r.logger.Error("Failed to summarize license states", zap.Error(err))
		return nil, fmt.Errorf("%w: summarize licenses: %v", ierr.ErrStoreUnavailable, err)
	}

	typeQuery := `SELECT license_type, COUNT(*) FROM licenses GROUP BY license_type`
	rows, err := r.db.Query(ctx, typeQuery)
	if err != nil {
		r.logger.Error("Failed to summarize license types", zap.Error(err))
		return nil, fmt.Errorf("%w: summarize license types: %v", ierr.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var licType license.LicenseType
		var count int64
		if err := rows.Scan(&licType, &count); err != nil {
			return nil, fmt.Errorf("%w: scan license type count: %v", ierr.ErrStoreUnavailable, err)
		}
		summary.TypeCounts[licType] = count
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate license type counts: %v", ierr.ErrStoreUnavailable, err)
	}

	return summary, nil
}

func (r *LicenseRepository) keyExists(ctx context.Context, storedKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM licenses WHERE license_key = $1)`, storedKey,
	).Scan(&exists)
	if err != nil {
		r.logger.Error("Failed to check license existence", zap.Error(err))
		return false, fmt.Errorf("%w: check license existence: %v", ierr.ErrStoreUnavailable, err)
	}
	return exists, nil
}

func (r *LicenseRepository) scanLicense(row pgx.Row) (*license.License, error) {
	lic, err := scanLicenseRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ierr.ErrNotFound
		}
		r.logger.Error("Failed to scan license row", zap.Error(err))
		return nil, fmt.Errorf("%w: scan license: %v", ierr.ErrStoreUnavailable, err)
	}
	return lic, nil
}

func scanLicenseRow(row pgx.Row) (*license.License, error) {
	var lic license.License
	err := row.Scan(
		&lic.ID,
		&lic.LicenseKey,
		&lic.LicenseType,
		&lic.KeyHint,
		&lic.IsUsed,
		&lic.IsBlocked,
		&lic.ExpirationDate,
		&lic.UseCounts,
		&lic.UseLimit,
		&lic.CreatedAt,
		&lic.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}
	return &lic, nil
}

// scanInto lets a multi-column aggregate query scan straight into the state
// count map.
func scanInto(counts map[license.State]int64, state license.State) *mapTarget {
	return &mapTarget{counts: counts, state: state}
}

type mapTarget struct {
	counts map[license.State]int64
	state  license.State
}

func (t *mapTarget) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		t.counts[t.state] = v
		return nil
	case int32:
		t.counts[t.state] = int64(v)
		return nil
	default:
		return fmt.Errorf("unexpected count type %T", src)
	}
}
