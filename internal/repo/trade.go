package repo

import (
	"context"

	"github.com/KNICEX/paper-trader/internal/entity"
	"gorm.io/gorm"
)

type TradeRepo interface {
	Create(ctx context.Context, trade entity.Trade) (int64, error)
	FindBySession(ctx context.Context, sessionId string) ([]entity.Trade, error)
	CountBySession(ctx context.Context, sessionId string) (int64, error)
}

type tradeRepo struct {
	db *gorm.DB
}

func NewTradeRepo(db *gorm.DB) TradeRepo {
	return &tradeRepo{
		db: db,
	}
}

func (r *tradeRepo) Create(ctx context.Context, trade entity.Trade) (int64, error) {
	err := r.db.WithContext(ctx).Create(&trade).Error
	if err != nil {
		return 0, err
	}
	return trade.Id, nil
}

// FindBySession 按写入顺序返回
func (r *tradeRepo) FindBySession(ctx context.Context, sessionId string) ([]entity.Trade, error) {
	var trades []entity.Trade
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionId).Order("id").Find(&trades).Error
	if err != nil {
		return nil, err
	}
	return trades, nil
}

func (r *tradeRepo) CountBySession(ctx context.Context, sessionId string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entity.Trade{}).Where("session_id = ?", sessionId).Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
