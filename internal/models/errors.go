package models

import "errors"

// ErrNotFound is returned by stores when a referenced record does not exist.
var ErrNotFound = errors.New("not found")
