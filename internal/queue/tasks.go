package queue

import (
	"encoding/json"
	"time"

	"github.com/dujiao-next/cart-core/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskReservationExpire 库存预占过期释放任务
	TaskReservationExpire = constants.TaskReservationExpire
)

// ReservationExpirePayload 预占过期释放任务载荷
type ReservationExpirePayload struct {
	Cutoff time.Time `json:"cutoff"`
}

// NewReservationExpireTask 创建预占过期释放任务
func NewReservationExpireTask(payload ReservationExpirePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReservationExpire, body), nil
}

// ParseReservationExpirePayload 解析预占过期释放任务载荷
func ParseReservationExpirePayload(body []byte) (ReservationExpirePayload, error) {
	var payload ReservationExpirePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, err
	}
	return payload, nil
}
