package models

import (
	"context"
	"time"

	"github.com/mzalendo-mfg/factory_backend/config"
	"github.com/mzalendo-mfg/factory_backend/utils"
)

type Supplier struct {
	ID            int       `gorm:"primary_key" json:"id"`
	Code          string    `gorm:"size:100;uniqueIndex;not null" json:"code"`
	Name          string    `gorm:"size:255;not null" json:"name"`
	ContactPerson string    `gorm:"size:100" json:"contact_person"`
	Phone         string    `gorm:"size:50" json:"phone"`
	Email         string    `gorm:"size:100" json:"email"`
	Active        *bool     `gorm:"not null;default:true" json:"active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSupplier struct {
	Code          string `json:"code" validate:"required"`
	Name          string `json:"name" validate:"required"`
	ContactPerson string `json:"contact_person"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
}

func (input *NewSupplier) validate() error {
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return NewValidationError("invalid supplier email %q", input.Email)
	}
	return nil
}

func CreateSupplier(ctx context.Context, input *NewSupplier) (*Supplier, error) {

	if err := input.validate(); err != nil {
		return nil, err
	}
	if err := utils.ValidateUnique[Supplier](ctx, "code", input.Code, 0); err != nil {
		return nil, NewValidationError("supplier code %q already exists", input.Code)
	}

	supplier := Supplier{
		Code:          input.Code,
		Name:          input.Name,
		ContactPerson: input.ContactPerson,
		Phone:         input.Phone,
		Email:         input.Email,
		Active:        utils.NewTrue(),
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&supplier).Error; err != nil {
		if isDuplicateEntry(err) {
			return nil, NewValidationError("supplier code %q already exists", input.Code)
		}
		return nil, err
	}
	return &supplier, nil
}

func UpdateSupplier(ctx context.Context, id int, input *NewSupplier) (*Supplier, error) {

	if err := input.validate(); err != nil {
		return nil, err
	}
	supplier, err := utils.FetchModel[Supplier](ctx, id)
	if err != nil {
		return nil, NewNotFoundError("supplier", id)
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(supplier).Updates(map[string]interface{}{
		"Name":          input.Name,
		"ContactPerson": input.ContactPerson,
		"Phone":         input.Phone,
		"Email":         input.Email,
	}).Error
	if err != nil {
		return nil, err
	}
	return supplier, nil
}

func DeleteSupplier(ctx context.Context, id int) (*Supplier, error) {

	supplier, err := utils.FetchModel[Supplier](ctx, id)
	if err != nil {
		return nil, NewNotFoundError("supplier", id)
	}

	count, err := utils.ResourceCountWhere[PurchaseOrder](ctx, "supplier_id = ?", id)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, NewInvalidStateError("supplier %s has purchase orders and cannot be deleted", supplier.Code)
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(supplier).Error; err != nil {
		return nil, err
	}
	return supplier, nil
}

// ToggleSupplierActive flips the active flag; inactive suppliers cannot
// receive new purchase orders.
func ToggleSupplierActive(ctx context.Context, id int) (*Supplier, error) {

	supplier, err := utils.FetchModel[Supplier](ctx, id)
	if err != nil {
		return nil, NewNotFoundError("supplier", id)
	}

	active := !utils.DereferencePtr(supplier.Active)
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(supplier).UpdateColumn("Active", active).Error; err != nil {
		return nil, err
	}
	supplier.Active = &active
	return supplier, nil
}

func GetSupplier(ctx context.Context, id int) (*Supplier, error) {
	supplier, err := utils.FetchModel[Supplier](ctx, id)
	if err != nil {
		return nil, NewNotFoundError("supplier", id)
	}
	return supplier, nil
}

func GetSuppliers(ctx context.Context) ([]*Supplier, error) {
	return utils.FetchAllModels[Supplier](ctx)
}
