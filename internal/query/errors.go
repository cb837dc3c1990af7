package query

import "errors"

// ErrInvalidFilter is returned for list filters that name no transaction type.
var ErrInvalidFilter = errors.New("invalid filter")
