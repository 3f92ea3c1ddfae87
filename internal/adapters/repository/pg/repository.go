package pg

import (
	"context"
	"errors"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"hostdeck.app/internal/core/domain"
	"hostdeck.app/internal/core/ports"
)

// ErrNotFound is returned when no operation record exists for an id.
var ErrNotFound = errors.New("operation not found")

// Repository is the gorm-backed operation record store.
type Repository struct {
	db *gorm.DB
}

func NewRepository(dsn string) (ports.OperationRepository, *gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, nil, err
	}

	if err := db.AutoMigrate(&domain.Operation{}); err != nil {
		return nil, nil, err
	}

	return &Repository{db: db}, db, nil
}

func (r *Repository) Create(ctx context.Context, op *domain.Operation) error {
	return r.db.WithContext(ctx).Create(op).Error
}

func (r *Repository) Update(ctx context.Context, op *domain.Operation) error {
	return r.db.WithContext(ctx).Save(op).Error
}

func (r *Repository) Get(ctx context.Context, id string) (*domain.Operation, error) {
	var op domain.Operation
	if err := r.db.WithContext(ctx).First(&op, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &op, nil
}

func (r *Repository) List(ctx context.Context, offset, limit int) ([]*domain.Operation, error) {
	var ops []*domain.Operation
	if err := r.db.WithContext(ctx).Order("created_at desc").Offset(offset).Limit(limit).Find(&ops).Error; err != nil {
		return nil, err
	}
	return ops, nil
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Operation{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
