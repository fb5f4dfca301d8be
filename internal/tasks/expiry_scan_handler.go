package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/keymeter/license-meter-api/internal/domain/license"
	"github.com/keymeter/license-meter-api/internal/notify"
	"go.uber.org/zap"
)

const scanPageSize = 1000

// ExpiryScanHandler pages through the license table and reports records that
// are expired or about to expire. It never mutates anything: the expired
// state is computed on read, so there is no stored flag to flip. The scan
// exists purely so operators hear about keys going stale.
type ExpiryScanHandler struct {
	repo     license.Repository
	notifier notify.Notifier
	logger   *zap.Logger
}

func NewExpiryScanHandler(repo license.Repository, notifier notify.Notifier, logger *zap.Logger) *ExpiryScanHandler {
	return &ExpiryScanHandler{
		repo:     repo,
		notifier: notifier,
		logger:   logger.Named("ExpiryScanHandler"),
	}
}

func (h *ExpiryScanHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TypeExpiryScan {
		return fmt.Errorf("unexpected task type: %s", t.Type())
	}

	var p ExpiryScanPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.logger.Error("Failed to unmarshal payload for expiry scan task", zap.Error(err), zap.ByteString("payload", t.Payload()))
		return fmt.Errorf("invalid payload: %v", err)
	}

	noticeWindow := time.Duration(p.NoticeWindowHours) * time.Hour
	if noticeWindow <= 0 {
		noticeWindow = 72 * time.Hour
	}

	h.logger.Info("Running license expiry scan", zap.Duration("notice_window", noticeWindow))

	now := time.Now().UTC()
	params := license.ListParams{
		SortBy:    "expiration_date",
		SortOrder: "ASC",
		Limit:     scanPageSize,
		Offset:    0,
	}

	expiredCount := 0
	expiringCount := 0
	processedCount := 0

	for {
		page, total, err := h.repo.List(ctx, params)
		if err != nil {
			h.logger.Error("Failed to list licenses for expiry scan", zap.Error(err))
			return fmt.Errorf("repository error listing licenses: %w", err)
		}

		if len(page) == 0 {
			break
		}

		processedCount += len(page)

		for _, lic := range page {
			if !lic.ExpirationDate.Valid {
				continue
			}

			expiresAt := lic.ExpirationDate.Time.UTC()
			var kind string
			switch {
			case !expiresAt.After(now):
				kind = notify.KindExpired
				expiredCount++
			case expiresAt.Before(now.Add(noticeWindow)):
				kind = notify.KindExpiringSoon
				expiringCount++
			default:
				continue
			}

			event := notify.Event{
				Kind:           kind,
				KeyHint:        lic.KeyHint,
				LicenseType:    string(lic.LicenseType),
				ExpirationDate: &lic.ExpirationDate.Time,
			}
			if err := h.notifier.Notify(ctx, event); err != nil {
				h.logger.Warn("Failed to deliver license expiry notification",
					zap.String("key_hint", lic.KeyHint),
					zap.Error(err),
				)
			}
		}

		if len(page) < params.Limit {
			break
		}

		params.Offset += params.Limit
		if params.Offset > int(total) && total > 0 {
			h.logger.Warn("Offset exceeded total count during expiry scan, breaking loop",
				zap.Int("offset", params.Offset), zap.Int64("total", total))
			break
		}
	}

	h.logger.Info("License expiry scan finished",
		zap.Int("processed_licenses", processedCount),
		zap.Int("expired", expiredCount),
		zap.Int("expiring_soon", expiringCount),
	)
	return nil
}
