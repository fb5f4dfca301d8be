package tasks

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/keymeter/license-meter-api/internal/domain/license"
	"github.com/keymeter/license-meter-api/internal/notify"
	"github.com/keymeter/license-meter-api/internal/storage/memstorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *captureNotifier) Notify(ctx context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func seedLicense(t *testing.T, repo *memstorage.LicenseRepository, storedKey, hint string, expiresAt *time.Time) {
	t.Helper()

	lic := &license.License{
		LicenseKey:  storedKey,
		KeyHint:     hint,
		LicenseType: license.TypeDemo,
		UseLimit:    10,
	}
	if expiresAt != nil {
		lic.ExpirationDate = sql.NullTime{Time: *expiresAt, Valid: true}
	}
	_, err := repo.Create(context.Background(), lic)
	require.NoError(t, err)
}

func TestExpiryScanReportsWithoutMutating(t *testing.T) {
	repo := memstorage.NewLicenseRepository()
	notifier := &captureNotifier{}
	handler := NewExpiryScanHandler(repo, notifier, zap.NewNop())

	now := time.Now().UTC()
	expired := now.Add(-2 * time.Hour)
	soon := now.Add(24 * time.Hour)
	far := now.Add(30 * 24 * time.Hour)

	seedLicense(t, repo, "stored-expired", "EXPIXXXX", &expired)
	seedLicense(t, repo, "stored-soon", "SOONXXXX", &soon)
	seedLicense(t, repo, "stored-far", "FARXXXXX", &far)
	seedLicense(t, repo, "stored-forever", "EVERXXXX", nil)

	task, err := NewExpiryScanTask(72 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, handler.ProcessTask(context.Background(), task))

	require.Len(t, notifier.events, 2)

	byHint := make(map[string]notify.Event, len(notifier.events))
	for _, e := range notifier.events {
		byHint[e.KeyHint] = e
	}
	assert.Equal(t, notify.KindExpired, byHint["EXPIXXXX"].Kind)
	assert.Equal(t, notify.KindExpiringSoon, byHint["SOONXXXX"].Kind)

	// The scan is read-only: the expired record keeps its stored fields.
	lic, err := repo.FindByKey(context.Background(), "stored-expired")
	require.NoError(t, err)
	assert.False(t, lic.IsBlocked)
	assert.Equal(t, 0, lic.UseCounts)
	assert.Equal(t, license.StateExpired, lic.State(time.Now()))
}

func TestExpiryScanRejectsForeignTask(t *testing.T) {
	handler := NewExpiryScanHandler(memstorage.NewLicenseRepository(), &captureNotifier{}, zap.NewNop())

	err := handler.ProcessTask(context.Background(), asynq.NewTask("other:task", nil))
	assert.Error(t, err)
}
