package license

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type LicenseType string

const (
	TypeUnknown            LicenseType = "UNKNOWN_LICENSE"
	TypeClientDownload     LicenseType = "CLIENT_DOWNLOAD_LICENSE"
	TypeClientSubscription LicenseType = "CLIENT_SUBSCRIPTION_LICENSE"
	TypeDemo               LicenseType = "DEMO_LICENSE"
)

// State is the lifecycle state computed from a record's fields at a given
// instant. Blocked and expired are overlays: they win over the usage-based
// states, with blocked checked first.
type State string

const (
	StateActiveUnused  State = "active_unused"
	StateActivePartial State = "active_partial"
	StateExhausted     State = "exhausted"
	StateBlocked       State = "blocked"
	StateExpired       State = "expired"
)

type License struct {
	ID             uuid.UUID    `db:"id" json:"id"`
	LicenseKey     string       `db:"license_key" json:"-"`
	LicenseType    LicenseType  `db:"license_type" json:"license_type"`
	KeyHint        string       `db:"key_hint" json:"key_hint"`
	IsUsed         bool         `db:"is_used" json:"is_used"`
	IsBlocked      bool         `db:"is_blocked" json:"is_blocked"`
	ExpirationDate sql.NullTime `db:"expiration_date" json:"expiration_date,omitempty"`
	UseCounts      int          `db:"use_counts" json:"use_counts"`
	UseLimit       int          `db:"use_limit" json:"use_limit"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
	LastUsedAt     sql.NullTime `db:"last_used_at" json:"last_used_at,omitempty"`
}

func (l *License) State(now time.Time) State {
	switch {
	case l.IsBlocked:
		return StateBlocked
	case l.ExpirationDate.Valid && !l.ExpirationDate.Time.After(now):
		return StateExpired
	case l.UseCounts >= l.UseLimit:
		return StateExhausted
	case l.UseCounts > 0:
		return StateActivePartial
	default:
		return StateActiveUnused
	}
}

// Eligible reports whether the record can be validated or redeemed right now:
// not blocked, not expired, and under its usage limit.
func (l *License) Eligible(now time.Time) bool {
	switch l.State(now) {
	case StateActiveUnused, StateActivePartial:
		return true
	default:
		return false
	}
}

// Patch is a partial update for administrative edits. Only non-nil fields are
// applied. ClearExpiration removes the expiration date entirely; it wins over
// ExpirationDate when both are set.
type Patch struct {
	LicenseType     *LicenseType
	KeyHint         *string
	ExpirationDate  *time.Time
	ClearExpiration bool
	UseLimit        *int
}

type ListParams struct {
	IsUsed       *bool
	IsBlocked    *bool
	LicenseType  *LicenseType
	HintContains *string
	Limit        int
	Offset       int
	SortBy       string
	SortOrder    string
}

// Summary aggregates license counts for the dashboard. State counts are
// computed against the instant the summary was taken.
type Summary struct {
	TotalLicenses int64                 `json:"totalLicenses"`
	StateCounts   map[State]int64       `json:"stateCounts"`
	TypeCounts    map[LicenseType]int64 `json:"typeCounts"`
	TakenAt       time.Time             `json:"takenAt"`
}
