package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/factory_backend/appctx"
	"github.com/mmdatafocus/factory_backend/config"
	"github.com/mmdatafocus/factory_backend/utils"
	"gorm.io/gorm"
)

type Client struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"size:64;index;not null" json:"business_id"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	Phone      string    `gorm:"size:32" json:"phone"`
	Address    string    `gorm:"size:512" json:"address"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewClient struct {
	Name    string `json:"name" validate:"required,max=255"`
	Phone   string `json:"phone" validate:"omitempty,max=32"`
	Address string `json:"address" validate:"omitempty,max=512"`
}

type Project struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"size:64;index;not null" json:"business_id"`
	ClientId   int       `gorm:"index;not null" json:"client_id"`
	Code       string    `gorm:"size:64;index" json:"code"`
	Name       string    `gorm:"size:255;not null" json:"name"`
	Address    string    `gorm:"size:512" json:"address"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewProject struct {
	ClientId int    `json:"client_id" validate:"required,gt=0"`
	Code     string `json:"code" validate:"omitempty,max=64"`
	Name     string `json:"name" validate:"required,max=255"`
	Address  string `json:"address" validate:"omitempty,max=512"`
}

func CreateClient(ctx context.Context, actor appctx.Actor, input *NewClient) (*Client, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return nil, utils.NewValidationError("invalid phone: %s", err.Error())
		}
		input.Phone = utils.FormatPhoneNumber(input.Phone, utils.CountryCode)
	}
	ctx = actor.Scope(ctx)
	client := Client{
		BusinessId: actor.BusinessId,
		Name:       strings.TrimSpace(input.Name),
		Phone:      input.Phone,
		Address:    input.Address,
	}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&client).Error; err != nil {
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionCreate, "client", client.ID, nil, client)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func CreateProject(ctx context.Context, actor appctx.Actor, input *NewProject) (*Project, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	ctx = actor.Scope(ctx)
	db := config.GetDB()
	if err := utils.ValidateResourceId[Client](ctx, db, actor.BusinessId, "client", input.ClientId); err != nil {
		return nil, err
	}
	project := Project{
		BusinessId: actor.BusinessId,
		ClientId:   input.ClientId,
		Code:       strings.TrimSpace(input.Code),
		Name:       strings.TrimSpace(input.Name),
		Address:    input.Address,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&project).Error; err != nil {
			return err
		}
		recordAudit(ctx, tx, actor, AuditActionCreate, "project", project.ID, nil, project)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func GetProject(ctx context.Context, actor appctx.Actor, id int) (*Project, error) {
	if err := utils.RequireActor(actor); err != nil {
		return nil, err
	}
	return utils.FetchModel[Project](actor.Scope(ctx), config.GetDB(), actor.BusinessId, "project", id)
}
