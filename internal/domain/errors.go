package domain

import "errors"

var (
	ErrNotFound            = errors.New("resource not found")
	ErrAlreadyClaimed      = errors.New("job already claimed")
	ErrInvalidTransition   = errors.New("invalid job status transition")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrPipelineClosed      = errors.New("pipeline is no longer in progress")
	ErrInvalidPipeline     = errors.New("invalid pipeline request")
	ErrNoEligibleResource  = errors.New("no eligible resource")
)
