package notification

import "context"

// Sender 单个通知渠道
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// 事件类型，可在配置中按类型过滤
const (
	EventReport    = "report"
	EventEmergency = "emergency"
	EventRisk      = "risk"
	EventTrade     = "trade"
)
