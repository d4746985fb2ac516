package history

import "errors"

// History store error types
var (
	ErrInvalidStoreType = errors.New("invalid history store type")
	ErrInvalidConfig    = errors.New("invalid history store configuration")
	ErrStoreClosed      = errors.New("history store is closed")
)
