package domain

import "errors"

var (
	// ErrNotFound is returned by lookups that found nothing.
	ErrNotFound = errors.New("not found")
	// ErrImageGeneration aborts a post whose image pipeline failed.
	ErrImageGeneration = errors.New("image generation failed")
	// ErrEmptyGeneration means the model produced no usable text.
	ErrEmptyGeneration = errors.New("empty generation")
	// ErrRejected means the operator declined the post.
	ErrRejected = errors.New("rejected by operator")
)
