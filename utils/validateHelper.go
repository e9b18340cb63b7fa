package utils

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

var validate = validator.New()

// ValidateStruct runs `validate` tags and reports every failing field as one Validation error.
func ValidateStruct(input any) error {
	if err := validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := ProcessValidationErrors(verrs)
			parts := make([]string, 0, len(fields))
			for field, tag := range fields {
				parts = append(parts, fmt.Sprintf("%s: %s", field, tag))
			}
			sort.Strings(parts)
			return NewValidationError("invalid input (%s)", strings.Join(parts, "; "))
		}
		return NewValidationError("invalid input: %s", err.Error())
	}
	return nil
}

func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return errorResponse
	}
	for _, ve := range validationErrors {
		if ve.Param() != "" {
			errorResponse[ve.Field()] = ve.Tag() + "=" + ve.Param()
		} else {
			errorResponse[ve.Field()] = ve.Tag()
		}
	}
	return errorResponse
}

// ValidateResourceId checks id exists for the tenant, returning a NotFound error naming entity.
func ValidateResourceId[T any](ctx context.Context, tx *gorm.DB, businessId string, entity string, id interface{}) error {
	count, err := ResourceCountWhere[T](ctx, tx, businessId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return NewNotFoundError(entity, id)
	}
	return nil
}

// ValidateUnique returns a ResourceConflict when column = value exists for the tenant (except exceptId).
func ValidateUnique[T any](ctx context.Context, tx *gorm.DB, businessId string, column string, value interface{}, exceptId interface{}) error {
	var count int64
	var err error
	if exceptId == nil || reflect.ValueOf(exceptId).IsZero() {
		count, err = ResourceCountWhere[T](ctx, tx, businessId, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, tx, businessId, column+" = ? AND NOT id = ?", value, exceptId)
	}
	if err != nil {
		return err
	}
	if count > 0 {
		return NewConflictError("duplicate %s: %v", column, value)
	}
	return nil
}

// ResourceCountWhere counts rows with WHERE business_id = ? AND condition.
func ResourceCountWhere[T any](ctx context.Context, tx *gorm.DB, businessId string, condition string, value ...interface{}) (int64, error) {
	var model T
	q := tx.WithContext(ctx).Model(&model)
	if businessId != "" {
		q = q.Where("business_id = ?", businessId)
	}
	var count int64
	if err := q.Where(condition, value...).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
