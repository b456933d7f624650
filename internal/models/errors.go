package models

import "errors"

// Application-wide standard errors
var (
	// Common Resource/DB Errors
	ErrNotFound        = errors.New("resource not found")
	ErrStoryNotFound   = errors.New("story not found")
	ErrSegmentNotFound = errors.New("story segment not found")

	// Generation flow errors
	ErrStoryCompleted  = errors.New("story is already completed")
	ErrParentNotLeaf   = errors.New("parent segment already has a child")
	ErrRootExists      = errors.New("story already has a root segment")
	ErrInvalidContent  = errors.New("generated content failed validation")
	ErrRateLimited     = errors.New("generation rate limit exceeded")
	ErrUnknownProvider = errors.New("unknown provider name")

	// General Request/Server Errors
	ErrInvalidInput   = errors.New("invalid input data")
	ErrInternalServer = errors.New("internal server error")
)
