package registry

import "errors"

var (
	ErrNotFound      = errors.New("file record not found")
	ErrDuplicateName = errors.New("file name already exists")
)
