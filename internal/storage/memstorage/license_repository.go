package memstorage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/keymeter/license-meter-api/internal/domain/license"
	"github.com/keymeter/license-meter-api/internal/ierr"
)

// LicenseRepository is an in-memory license.Repository. A single mutex
// serializes every operation, which trivially satisfies the contract that
// redemption and the other mutations behave as one atomic step per key.
type LicenseRepository struct {
	mu      sync.Mutex
	byKey   map[string]*license.License
	byID    map[uuid.UUID]*license.License
	nowFunc func() time.Time
}

func NewLicenseRepository() *LicenseRepository {
	return &LicenseRepository{
		byKey:   make(map[string]*license.License),
		byID:    make(map[uuid.UUID]*license.License),
		nowFunc: time.Now,
	}
}

var _ license.Repository = (*LicenseRepository)(nil)

func (r *LicenseRepository) Create(ctx context.Context, lic *license.License) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[lic.LicenseKey]; exists {
		return uuid.Nil, ierr.ErrDuplicateKey
	}

	stored := *lic
	stored.ID = uuid.New()
	stored.CreatedAt = r.nowFunc()
	stored.UseCounts = 0
	stored.IsUsed = false

	r.byKey[stored.LicenseKey] = &stored
	r.byID[stored.ID] = &stored

	return stored.ID, nil
}

func (r *LicenseRepository) FindByID(ctx context.Context, id uuid.UUID) (*license.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.byID[id]
	if !ok {
		return nil, ierr.ErrNotFound
	}
	return copyOf(lic), nil
}

func (r *LicenseRepository) FindByKey(ctx context.Context, storedKey string) (*license.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.byKey[storedKey]
	if !ok {
		return nil, ierr.ErrNotFound
	}
	return copyOf(lic), nil
}

func (r *LicenseRepository) IncrementIfEligible(ctx context.Context, storedKey string, now time.Time) (*license.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.byKey[storedKey]
	if !ok {
		return nil, ierr.ErrNotFound
	}
	if !lic.Eligible(now) {
		return nil, ierr.ErrNotEligible
	}

	lic.UseCounts++
	lic.LastUsedAt.Time = now
	lic.LastUsedAt.Valid = true
	lic.IsUsed = lic.UseCounts >= lic.UseLimit

	return copyOf(lic), nil
}

func (r *LicenseRepository) SetBlocked(ctx context.Context, storedKey string, blocked bool) (*license.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.byKey[storedKey]
	if !ok {
		return nil, ierr.ErrNotFound
	}
	if lic.IsBlocked == blocked {
		return nil, ierr.ErrNoChange
	}

	lic.IsBlocked = blocked
	return copyOf(lic), nil
}

func (r *LicenseRepository) ResetUsage(ctx context.Context, storedKey string) (*license.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.byKey[storedKey]
	if !ok {
		return nil, ierr.ErrNotFound
	}

	lic.UseCounts = 0
	lic.IsUsed = false
	return copyOf(lic), nil
}

func (r *LicenseRepository) AdjustLimit(ctx context.Context, storedKey string, delta int) (*license.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.byKey[storedKey]
	if !ok {
		return nil, ierr.ErrNotFound
	}
	if lic.UseLimit+delta < 1 {
		return nil, ierr.ErrInvalidLimit
	}

	lic.UseLimit += delta
	lic.IsUsed = lic.UseCounts >= lic.UseLimit
	return copyOf(lic), nil
}

func (r *LicenseRepository) ApplyPatch(ctx context.Context, id uuid.UUID, patch *license.Patch) (*license.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	lic, ok := r.byID[id]
	if !ok {
		return nil, ierr.ErrNotFound
	}

	if patch.UseLimit != nil && *patch.UseLimit < 1 {
		return nil, ierr.ErrInvalidLimit
	}

	if patch.LicenseType != nil {
		lic.LicenseType = *patch.LicenseType
	}
	if patch.KeyHint != nil {
		lic.KeyHint = *patch.KeyHint
	}
	if patch.ClearExpiration {
		lic.ExpirationDate.Valid = false
		lic.ExpirationDate.Time = time.Time{}
	} else if patch.ExpirationDate != nil {
		lic.ExpirationDate.Time = *patch.ExpirationDate
		lic.ExpirationDate.Valid = true
	}
	if patch.UseLimit != nil {
		lic.UseLimit = *patch.UseLimit
		lic.IsUsed = lic.UseCounts >= lic.UseLimit
	}

	return copyOf(lic), nil
}

func (r *LicenseRepository) List(ctx context.Context, params license.ListParams) ([]*license.License, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]*license.License, 0, len(r.byKey))
	for _, lic := range r.byKey {
		if params.IsUsed != nil && lic.IsUsed != *params.IsUsed {
			continue
		}
		if params.IsBlocked != nil && lic.IsBlocked != *params.IsBlocked {
			continue
		}
		if params.LicenseType != nil && lic.LicenseType != *params.LicenseType {
			continue
		}
		if params.HintContains != nil && *params.HintContains != "" &&
			!strings.Contains(strings.ToLower(lic.KeyHint), strings.ToLower(*params.HintContains)) {
			continue
		}
		matched = append(matched, lic)
	}

	asc := strings.EqualFold(params.SortOrder, "ASC")
	sort.Slice(matched, func(i, j int) bool {
		var before bool
		switch params.SortBy {
		case "expiration_date":
			// Records without an expiration sort last in ascending order.
			a, b := matched[i].ExpirationDate, matched[j].ExpirationDate
			switch {
			case a.Valid && b.Valid:
				before = a.Time.Before(b.Time)
			case a.Valid:
				before = true
			default:
				before = false
			}
		case "use_counts":
			before = matched[i].UseCounts < matched[j].UseCounts
		case "use_limit":
			before = matched[i].UseLimit < matched[j].UseLimit
		default:
			before = matched[i].CreatedAt.Before(matched[j].CreatedAt)
		}
		if asc {
			return before
		}
		return !before
	})

	total := int64(len(matched))

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := params.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}

	page := make([]*license.License, 0, end-offset)
	for _, lic := range matched[offset:end] {
		page = append(page, copyOf(lic))
	}

	return page, total, nil
}

func (r *LicenseRepository) Summarize(ctx context.Context, now time.Time) (*license.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	summary := &license.Summary{
		StateCounts: make(map[license.State]int64),
		TypeCounts:  make(map[license.LicenseType]int64),
		TakenAt:     now,
	}

	for _, lic := range r.byKey {
		summary.TotalLicenses++
		summary.StateCounts[lic.State(now)]++
		summary.TypeCounts[lic.LicenseType]++
	}

	return summary, nil
}

func copyOf(lic *license.License) *license.License {
	c := *lic
	return &c
}
