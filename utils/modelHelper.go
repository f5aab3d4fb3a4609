package utils

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

/* DB fetching */

// WithUpdateLock applies SELECT ... FOR UPDATE on dialects that support
// it. sqlite (tests) locks the whole database per write transaction, so
// the clause is skipped there.
func WithUpdateLock(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// FetchModel loads a single row by id.
// (may return ErrorRecordNotFound)
func FetchModel[T any](tx *gorm.DB, id int, associations ...string) (*T, error) {
	q := tx
	for _, field := range associations {
		q = q.Preload(field)
	}
	var result T
	err := q.First(&result, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

// FetchModelForUpdate loads a single row by id under a row lock
// (SELECT ... FOR UPDATE). Use for every check-then-write quantity
// comparison.
func FetchModelForUpdate[T any](tx *gorm.DB, id int) (*T, error) {
	var result T
	err := WithUpdateLock(tx).First(&result, id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

// ValidateResourceId checks a referenced id exists.
// (returns ErrorRecordNotFound when it does not)
func ValidateResourceId[T any](tx *gorm.DB, id int) error {
	if id == 0 {
		return ErrorRecordNotFound
	}
	var model T
	var count int64
	if err := tx.Model(&model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}
