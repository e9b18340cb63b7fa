package utils

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FetchModel loads one tenant-owned row; a missing row is a NotFound error naming entity.
func FetchModel[T any](ctx context.Context, tx *gorm.DB, businessId string, entity string, id int, associations ...string) (*T, error) {
	q := tx.WithContext(ctx).Where("business_id = ?", businessId)
	for _, field := range associations {
		q = q.Preload(field)
	}
	var result T
	if err := q.First(&result, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError(entity, id)
		}
		return nil, err
	}
	return &result, nil
}

// FetchModelForUpdate is FetchModel under SELECT ... FOR UPDATE; tx must be a transaction.
func FetchModelForUpdate[T any](ctx context.Context, tx *gorm.DB, businessId string, entity string, id int) (*T, error) {
	var result T
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ?", businessId).
		First(&result, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewNotFoundError(entity, id)
		}
		return nil, err
	}
	return &result, nil
}

// FetchAllModels lists tenant rows matching optional condition.
func FetchAllModels[T any](ctx context.Context, tx *gorm.DB, businessId string, limit int, condition string, args ...any) ([]*T, error) {
	q := tx.WithContext(ctx).Where("business_id = ?", businessId)
	if condition != "" {
		q = q.Where(condition, args...)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var results []*T
	if err := q.Order("id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
