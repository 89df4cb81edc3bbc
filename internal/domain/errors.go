package domain

import "errors"

var (
	ErrLoadFailed           = errors.New("load failed")
	ErrInvalidRemovalTarget = errors.New("invalid removal target")
	ErrStaleSession         = errors.New("stale session result")
	ErrPositionNotFound     = errors.New("position not found")
	ErrAlreadyLoaded        = errors.New("collection already loaded")
)
