package vectorindex

import "errors"

var (
	ErrUnreachable        = errors.New("vector backend unreachable")
	ErrCollectionNotFound = errors.New("collection not found")
)
