package models

import (
	"errors"
	"fmt"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// IsDuplicateKeyErr recognizes unique-constraint violations from the MySQL
// driver (error 1062) and from gorm's dialect-independent translation,
// which is what sqlite reports in tests.
func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// classifyDuplicate maps unique-index violations onto the domain error so
// racing inserts surface the same way as the pre-insert existence check.
func classifyDuplicate(err error) error {
	if IsDuplicateKeyErr(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateLink, err)
	}
	return err
}
