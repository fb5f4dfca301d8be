package license

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateTransitionsFromFields(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name string
		lic  License
		want State
	}{
		{
			name: "fresh record",
			lic:  License{UseCounts: 0, UseLimit: 10},
			want: StateActiveUnused,
		},
		{
			name: "partially consumed",
			lic:  License{UseCounts: 3, UseLimit: 10},
			want: StateActivePartial,
		},
		{
			name: "exhausted",
			lic:  License{UseCounts: 10, UseLimit: 10},
			want: StateExhausted,
		},
		{
			name: "counts above limit still exhausted",
			lic:  License{UseCounts: 12, UseLimit: 10},
			want: StateExhausted,
		},
		{
			name: "blocked overlays usage",
			lic:  License{UseCounts: 3, UseLimit: 10, IsBlocked: true},
			want: StateBlocked,
		},
		{
			name: "blocked wins over expired",
			lic: License{
				UseCounts: 0, UseLimit: 10, IsBlocked: true,
				ExpirationDate: sql.NullTime{Time: past, Valid: true},
			},
			want: StateBlocked,
		},
		{
			name: "expired overlays usage",
			lic: License{
				UseCounts: 0, UseLimit: 10,
				ExpirationDate: sql.NullTime{Time: past, Valid: true},
			},
			want: StateExpired,
		},
		{
			name: "expiration exactly now is expired",
			lic: License{
				UseCounts: 0, UseLimit: 10,
				ExpirationDate: sql.NullTime{Time: now, Valid: true},
			},
			want: StateExpired,
		},
		{
			name: "future expiration still active",
			lic: License{
				UseCounts: 1, UseLimit: 10,
				ExpirationDate: sql.NullTime{Time: future, Valid: true},
			},
			want: StateActivePartial,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.lic.State(now))
		})
	}
}

func TestEligible(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)

	assert.True(t, (&License{UseCounts: 0, UseLimit: 1}).Eligible(now))
	assert.True(t, (&License{UseCounts: 4, UseLimit: 5}).Eligible(now))
	assert.False(t, (&License{UseCounts: 5, UseLimit: 5}).Eligible(now))
	assert.False(t, (&License{UseCounts: 0, UseLimit: 5, IsBlocked: true}).Eligible(now))
	assert.False(t, (&License{
		UseCounts: 0, UseLimit: 5,
		ExpirationDate: sql.NullTime{Time: past, Valid: true},
	}).Eligible(now))
}
