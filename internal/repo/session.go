package repo

import (
	"context"

	"github.com/KNICEX/paper-trader/internal/entity"
	"gorm.io/gorm"
)

type SessionRepo interface {
	Create(ctx context.Context, session entity.Session) error
	Finish(ctx context.Context, id string, status int, finalEquity, snapshotPath string) error
	FindById(ctx context.Context, id string) (entity.Session, error)
	FindByStatus(ctx context.Context, status int) ([]entity.Session, error)
}

type sessionRepo struct {
	db *gorm.DB
}

func NewSessionRepo(db *gorm.DB) SessionRepo {
	return &sessionRepo{
		db: db,
	}
}

func (r *sessionRepo) Create(ctx context.Context, session entity.Session) error {
	return r.db.WithContext(ctx).Create(&session).Error
}

func (r *sessionRepo) Finish(ctx context.Context, id string, status int, finalEquity, snapshotPath string) error {
	return r.db.WithContext(ctx).Model(&entity.Session{}).Where("id = ?", id).Updates(map[string]any{
		"status":        status,
		"final_equity":  finalEquity,
		"snapshot_path": snapshotPath,
	}).Error
}

func (r *sessionRepo) FindById(ctx context.Context, id string) (entity.Session, error) {
	var session entity.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	return session, err
}

func (r *sessionRepo) FindByStatus(ctx context.Context, status int) ([]entity.Session, error) {
	var sessions []entity.Session
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("created_at").Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
