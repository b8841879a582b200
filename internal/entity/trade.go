package entity

import (
	"time"
)

// Trade 一次(部分)平仓记录，金额以字符串保存避免精度丢失
type Trade struct {
	Id          int64  `gorm:"primaryKey;autoIncrement"`
	SessionId   string `gorm:"index"`
	PositionId  string `gorm:"index"`
	Symbol      string `gorm:"index"`
	Direction   string
	EntryPrice  string
	EntryTime   time.Time
	ExitPrice   string
	ExitTime    time.Time `gorm:"index"`
	ExitSize    string
	ExitReason  string `gorm:"index"`
	RealizedPnL string
	PnLPercent  string
	Final       bool
	CreatedAt   time.Time
}

// Session 一次虚拟交易会话
type Session struct {
	Id             string `gorm:"primaryKey"`
	InitialBalance string
	FinalEquity    string
	Status         int `gorm:"index"` // 0:运行中 1:正常结束 2:异常结束
	SnapshotPath   string
	CreatedAt      time.Time `gorm:"index"`
	UpdatedAt      time.Time
}

const (
	SessionStatusRunning  = 0
	SessionStatusFinished = 1
	SessionStatusAborted  = 2
)
