package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeExpiryScan = "license:expiry:scan"
)

type ExpiryScanPayload struct {
	NoticeWindowHours int `json:"notice_window_hours"`
}

func NewExpiryScanTask(noticeWindow time.Duration, opts ...asynq.Option) (*asynq.Task, error) {
	payload := ExpiryScanPayload{
		NoticeWindowHours: int(noticeWindow.Hours()),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	uniqueOpt := asynq.Unique(1 * time.Hour)
	allOpts := append(opts, uniqueOpt)

	return asynq.NewTask(TypeExpiryScan, payloadBytes, allOpts...), nil
}
