package db

import (
	"errors"

	pkgerrors "github.com/marketa-io/marketa-backend/pkg/errors"
	"gorm.io/gorm"
)

// Translate maps a raw store error to the engine's outcome taxonomy. Only
// not-found rows get a specific code; everything else is a storage failure
// so no raw store error crosses the core boundary.
func Translate(err error, notFoundMsg string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFoundMsg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDatabase, err, "store operation failed")
}
