package models

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StageList is a tenant's ordered manufacturing stages. Names compare case-insensitively.
type StageList []string

// NewStageList validates an operator supplied list.
func NewStageList(stages []string) (StageList, error) {
	list := make(StageList, 0, len(stages))
	for _, s := range stages {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, utils.NewValidationError("stage name cannot be blank")
		}
		if _, dup := list.IndexOf(s); dup {
			return nil, utils.NewValidationError("duplicate stage: %s", s)
		}
		list = append(list, s)
	}
	if len(list) == 0 {
		return nil, utils.NewValidationError("at least one stage is required")
	}
	return list, nil
}

// ParseStageList reads stored configuration. Malformed, empty or missing data is ErrStagesNotConfigured.
func ParseStageList(raw []byte) (StageList, error) {
	items, ok := utils.ParseStringList(raw)
	if !ok {
		return nil, utils.ErrStagesNotConfigured
	}
	list := make(StageList, 0, len(items))
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := list.IndexOf(s); dup {
			continue
		}
		list = append(list, s)
	}
	if len(list) == 0 {
		return nil, utils.ErrStagesNotConfigured
	}
	return list, nil
}

func (s StageList) First() (string, bool) {
	if len(s) == 0 {
		return "", false
	}
	return s[0], true
}

func (s StageList) IndexOf(stage string) (int, bool) {
	stage = strings.TrimSpace(stage)
	for i, name := range s {
		if strings.EqualFold(name, stage) {
			return i, true
		}
	}
	return -1, false
}

// Next returns the stage after current; false when current is last or unlisted.
func (s StageList) Next(current string) (string, bool) {
	i, ok := s.IndexOf(current)
	if !ok || i+1 >= len(s) {
		return "", false
	}
	return s[i+1], true
}

// Canonical returns the configured spelling of stage, or the trimmed input for unlisted stages.
func (s StageList) Canonical(stage string) string {
	if i, ok := s.IndexOf(stage); ok {
		return s[i]
	}
	return strings.TrimSpace(stage)
}

// IndexPtr is IndexOf in the nullable form stored on jobs.
func (s StageList) IndexPtr(stage string) *int {
	if i, ok := s.IndexOf(stage); ok {
		return &i
	}
	return nil
}

type TenantStageSetting struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"size:64;uniqueIndex;not null" json:"business_id"`
	Stages     string    `gorm:"type:text;not null" json:"stages"`
	UpdatedBy  int       `json:"updated_by"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func stageListCacheKey(businessId string) string {
	return "StageList:" + businessId
}

// GetTenantStageList resolves the tenant's stage list through the redis cache, reading with tx.
func GetTenantStageList(ctx context.Context, tx *gorm.DB, businessId string) (StageList, error) {
	var cached []string
	if exists, err := config.GetRedisObject(stageListCacheKey(businessId), &cached); err == nil && exists && len(cached) > 0 {
		return StageList(cached), nil
	}

	var setting TenantStageSetting
	err := tx.WithContext(ctx).Where("business_id = ?", businessId).First(&setting).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrStagesNotConfigured
		}
		return nil, err
	}
	list, err := ParseStageList([]byte(setting.Stages))
	if err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(stageListCacheKey(businessId), []string(list), utils.GetCacheLifespan()); err != nil {
		config.LogError(config.GetLogger(), "stageList.go", "GetTenantStageList", "cache stage list", businessId, err)
	}
	return list, nil
}

func FirstStage(ctx context.Context, tx *gorm.DB, businessId string) (string, error) {
	list, err := GetTenantStageList(ctx, tx, businessId)
	if err != nil {
		return "", err
	}
	first, _ := list.First()
	return first, nil
}

func NextStage(ctx context.Context, tx *gorm.DB, businessId string, current string) (string, bool, error) {
	list, err := GetTenantStageList(ctx, tx, businessId)
	if err != nil {
		return "", false, err
	}
	next, ok := list.Next(current)
	return next, ok, nil
}

func IndexOfStage(ctx context.Context, tx *gorm.DB, businessId string, stage string) (*int, error) {
	list, err := GetTenantStageList(ctx, tx, businessId)
	if err != nil {
		return nil, err
	}
	return list.IndexPtr(stage), nil
}

func GetTenantStages(ctx context.Context, actor appctx.Actor) (StageList, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	return GetTenantStageList(actor.Scope(ctx), config.GetDB(), actor.BusinessId)
}

// SetTenantStages replaces the tenant's stage list. Jobs keep their stage names; their
// stageIndex is recomputed against the new list on read.
func SetTenantStages(ctx context.Context, actor appctx.Actor, stages []string) (StageList, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	list, err := NewStageList(stages)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal([]string(list))
	if err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)
	db := config.GetDB()

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var setting TenantStageSetting
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ?", actor.BusinessId).
			First(&setting).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		var old StageList
		if setting.ID == 0 {
			setting = TenantStageSetting{BusinessId: actor.BusinessId, Stages: string(encoded), UpdatedBy: actor.UserId}
			if err := tx.Create(&setting).Error; err != nil {
				if utils.IsDuplicateKeyErr(err) {
					return utils.NewConflictError("stage settings are being updated concurrently, retry")
				}
				return err
			}
		} else {
			old, _ = ParseStageList([]byte(setting.Stages))
			if err := tx.Model(&setting).Updates(map[string]interface{}{
				"stages":     string(encoded),
				"updated_by": actor.UserId,
			}).Error; err != nil {
				return err
			}
		}
		recordAudit(ctx, tx, actor, AuditActionUpdate, "tenant_stage_setting", setting.ID, old, list)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := config.RemoveRedisKey(stageListCacheKey(actor.BusinessId)); err != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"field":       "SetTenantStages",
			"business_id": actor.BusinessId,
		}).Warn("failed to invalidate stage list cache: " + err.Error())
	}
	return list, nil
}
