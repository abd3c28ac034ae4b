package models

import "errors"

// ErrInvalidConfig wraps every validation failure that is rejected at save time.
var ErrInvalidConfig = errors.New("invalid configuration")
