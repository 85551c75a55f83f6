package domain

import (
	"context"
	"errors"
	"fmt"
)

type FailureClass string

const (
	FailureTransientInfra   FailureClass = "transient_infra"
	FailureTransientContent FailureClass = "transient_content"
	FailurePermanent        FailureClass = "permanent"
)

// Messages shown when a failure carries no public text of its own.
const (
	PublicInfraMessage     = "processing capacity was unavailable"
	PublicContentMessage   = "the stage could not process this input"
	PublicPermanentMessage = "the stage could not be completed"
)

// StageFailure is the classified error returned by stage backends. Reason and
// Err may name hosts, paths or resources; only Public reaches users.
type StageFailure struct {
	Class  FailureClass
	Reason string
	Public string
	Err    error
}

func (f *StageFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Class, f.Reason, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Class, f.Reason)
}

func (f *StageFailure) Unwrap() error {
	return f.Err
}

// WithPublic sets the message users see for this failure.
func (f *StageFailure) WithPublic(msg string) *StageFailure {
	f.Public = msg
	return f
}

func (f *StageFailure) PublicMessage() string {
	if f.Public != "" {
		return f.Public
	}
	switch f.Class {
	case FailureTransientInfra:
		return PublicInfraMessage
	case FailureTransientContent:
		return PublicContentMessage
	default:
		return PublicPermanentMessage
	}
}

// JobError splits the failure into its public message and full detail.
func (f *StageFailure) JobError() JobError {
	return JobError{Class: f.Class, Message: f.PublicMessage(), Detail: f.Error()}
}

func InfraFailure(reason string, err error) *StageFailure {
	return &StageFailure{Class: FailureTransientInfra, Reason: reason, Err: err}
}

func ContentFailure(reason string, err error) *StageFailure {
	return &StageFailure{Class: FailureTransientContent, Reason: reason, Err: err}
}

func PermanentFailure(reason string, err error) *StageFailure {
	return &StageFailure{Class: FailurePermanent, Reason: reason, Err: err}
}

// Classify maps any execution error onto the failure taxonomy. Unclassified
// errors are permanent, deadline expiry is an infrastructure fault.
func Classify(err error) *StageFailure {
	if err == nil {
		return nil
	}
	var sf *StageFailure
	if errors.As(err, &sf) {
		return sf
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return InfraFailure("stage timed out", err).WithPublic("stage timed out")
	}
	return PermanentFailure("stage error", err)
}
