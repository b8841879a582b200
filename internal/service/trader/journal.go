package trader

import (
	"context"
	"fmt"

	"github.com/KNICEX/paper-trader/internal/entity"
	"github.com/KNICEX/paper-trader/internal/service/trading"
	"github.com/shopspring/decimal"
)

func ToEntity(sessionID string, t trading.ClosedTrade) entity.Trade {
	return entity.Trade{
		SessionId:   sessionID,
		PositionId:  t.PositionID,
		Symbol:      t.Symbol,
		Direction:   string(t.Direction),
		EntryPrice:  t.EntryPrice.String(),
		EntryTime:   t.EntryTime.UTC(),
		ExitPrice:   t.ExitPrice.String(),
		ExitTime:    t.ExitTime.UTC(),
		ExitSize:    t.ExitSize.String(),
		ExitReason:  string(t.ExitReason),
		RealizedPnL: t.RealizedPnL.String(),
		PnLPercent:  t.PnLPercent.String(),
		Final:       t.Final,
	}
}

func FromEntity(e entity.Trade) (trading.ClosedTrade, error) {
	fields := []string{e.EntryPrice, e.ExitPrice, e.ExitSize, e.RealizedPnL, e.PnLPercent}
	values := make([]decimal.Decimal, len(fields))
	for i, f := range fields {
		v, err := decimal.NewFromString(f)
		if err != nil {
			return trading.ClosedTrade{}, fmt.Errorf("trade %d: parse %q: %w", e.Id, f, err)
		}
		values[i] = v
	}
	return trading.ClosedTrade{
		PositionID:  e.PositionId,
		Symbol:      e.Symbol,
		Direction:   trading.Direction(e.Direction),
		EntryPrice:  values[0],
		EntryTime:   e.EntryTime.UTC(),
		ExitPrice:   values[1],
		ExitTime:    e.ExitTime.UTC(),
		ExitSize:    values[2],
		ExitReason:  trading.ExitReason(e.ExitReason),
		RealizedPnL: values[3],
		PnLPercent:  values[4],
		Final:       e.Final,
	}, nil
}

// LoadHistory 从数据库读取会话的全部成交记录，用于恢复
func LoadHistory(ctx context.Context, journal interface {
	FindBySession(ctx context.Context, sessionId string) ([]entity.Trade, error)
}, sessionID string) ([]trading.ClosedTrade, error) {
	rows, err := journal.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	trades := make([]trading.ClosedTrade, 0, len(rows))
	for _, row := range rows {
		tr, err := FromEntity(row)
		if err != nil {
			return nil, err
		}
		trades = append(trades, tr)
	}
	return trades, nil
}
