package serviceerr

import "errors"

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("already exists")
var ErrInvalidConfig = errors.New("invalid configuration")
var ErrUnknownStorage = errors.New("unknown storage type")
var ErrUpstreamNotConfigured = errors.New("upstream not configured")
