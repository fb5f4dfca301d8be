package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/keymeter/license-meter-api/internal/domain/license"
)

type IssueLicenseRequest struct {
	RawKey         string     `json:"raw_key" binding:"required"`
	LicenseType    string     `json:"license_type" binding:"omitempty,oneof=UNKNOWN_LICENSE CLIENT_DOWNLOAD_LICENSE CLIENT_SUBSCRIPTION_LICENSE DEMO_LICENSE"`
	UseLimit       *int       `json:"use_limit" binding:"omitempty,gte=1"`
	ExpirationDate *time.Time `json:"expiration_date" binding:"omitempty,gt"`
}

type IssueLicenseResponse struct {
	Success        bool       `json:"success"`
	KeyHint        string     `json:"key_hint"`
	LicenseType    string     `json:"license_type"`
	UseLimit       int        `json:"use_limit"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
}

type ValidateLicenseRequest struct {
	RawKey string `json:"raw_key" binding:"required"`
}

type ValidateLicenseResponse struct {
	Eligible    bool   `json:"eligible"`
	KeyHint     string `json:"key_hint,omitempty"`
	LicenseType string `json:"license_type,omitempty"`
}

type RedeemLicenseRequest struct {
	RawKey string `json:"raw_key" binding:"required"`
}

type RedeemLicenseResponse struct {
	Eligible  bool   `json:"eligible"`
	KeyHint   string `json:"key_hint,omitempty"`
	UseCounts int    `json:"use_counts,omitempty"`
	UseLimit  int    `json:"use_limit,omitempty"`
	IsUsed    bool   `json:"is_used,omitempty"`
}

type ToggleBlockRequest struct {
	RawKey  string `json:"raw_key" binding:"required"`
	Blocked *bool  `json:"blocked" binding:"required"`
}

type ResetUsageRequest struct {
	RawKey string `json:"raw_key" binding:"required"`
}

type AdjustLimitRequest struct {
	RawKey string `json:"raw_key" binding:"required"`
	Amount int    `json:"amount" binding:"required,gte=1"`
}

// MutationResponse reports an admin mutation. Changed is false when the
// request was a no-op (the record already had the requested state).
type MutationResponse struct {
	Success bool `json:"success"`
	Changed bool `json:"changed"`
}

type AdjustLimitResponse struct {
	Success  bool   `json:"success"`
	UseLimit int    `json:"use_limit"`
	Warning  string `json:"warning,omitempty"`
}

// LicenseResponse is the administrative view of a record. The stored key is
// never part of any response; only the masked hint identifies the license.
type LicenseResponse struct {
	ID             uuid.UUID     `json:"id"`
	KeyHint        string        `json:"key_hint"`
	LicenseType    string        `json:"license_type"`
	State          license.State `json:"state"`
	IsUsed         bool          `json:"is_used"`
	IsBlocked      bool          `json:"is_blocked"`
	ExpirationDate *time.Time    `json:"expiration_date,omitempty"`
	UseCounts      int           `json:"use_counts"`
	UseLimit       int           `json:"use_limit"`
	CreatedAt      time.Time     `json:"created_at"`
	LastUsedAt     *time.Time    `json:"last_used_at,omitempty"`
}

func NewLicenseResponse(lic *license.License, now time.Time) *LicenseResponse {
	resp := &LicenseResponse{
		ID:          lic.ID,
		KeyHint:     lic.KeyHint,
		LicenseType: string(lic.LicenseType),
		State:       lic.State(now),
		IsUsed:      lic.IsUsed,
		IsBlocked:   lic.IsBlocked,
		UseCounts:   lic.UseCounts,
		UseLimit:    lic.UseLimit,
		CreatedAt:   lic.CreatedAt,
	}
	if lic.ExpirationDate.Valid {
		resp.ExpirationDate = &lic.ExpirationDate.Time
	}
	if lic.LastUsedAt.Valid {
		resp.LastUsedAt = &lic.LastUsedAt.Time
	}
	return resp
}

type ListLicensesRequest struct {
	IsUsed      *bool   `form:"is_used"`
	IsBlocked   *bool   `form:"is_blocked"`
	LicenseType *string `form:"type" binding:"omitempty,oneof=UNKNOWN_LICENSE CLIENT_DOWNLOAD_LICENSE CLIENT_SUBSCRIPTION_LICENSE DEMO_LICENSE"`
	Hint        *string `form:"hint"`
	Limit       int     `form:"limit,default=20" binding:"omitempty,gte=0"`
	Offset      int     `form:"offset,default=0" binding:"omitempty,gte=0"`
	SortBy      string  `form:"sort_by,default=created_at"`
	SortOrder   string  `form:"sort_order,default=DESC" binding:"omitempty,oneof=ASC DESC"`
}

type PaginatedLicenseResponse struct {
	Licenses   []*LicenseResponse `json:"licenses"`
	TotalCount int64              `json:"totalCount"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

type UpdateLicenseRequest struct {
	LicenseType     *string    `json:"license_type" binding:"omitempty,oneof=UNKNOWN_LICENSE CLIENT_DOWNLOAD_LICENSE CLIENT_SUBSCRIPTION_LICENSE DEMO_LICENSE"`
	KeyHint         *string    `json:"key_hint" binding:"omitempty,max=50"`
	ExpirationDate  *time.Time `json:"expiration_date"`
	ClearExpiration bool       `json:"clear_expiration"`
	UseLimit        *int       `json:"use_limit" binding:"omitempty,gte=1"`
}
