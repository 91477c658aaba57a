// Package funnel drives a visitor through the lead funnel: intake, an
// intro video, a path choice, a path video, optional feedback and done.
//
// Next is the pure transition table. Session owns one visitor's lead, the
// video gate, the fallback timers and the persistence checkpoints.
package funnel

import (
	"errors"
	"fmt"

	"advisor/schemas"
)

type Trigger string

const (
	TriggerSubmit     Trigger = "submit"
	TriggerVideoEnded Trigger = "video-ended"
	TriggerSkip       Trigger = "skip"
	TriggerTimeout    Trigger = "timeout"
	TriggerBack       Trigger = "back"
	TriggerChoose     Trigger = "choose"
)

var ErrInvalidTransition = errors.New("funnel: invalid transition")

// Options are the configuration bits the transition table depends on.
type Options struct {
	Feedback bool
}

// Next returns the step entered when trigger fires in from.
func Next(from schemas.Step, trigger Trigger, opts Options) (schemas.Step, error) {
	switch from {
	case schemas.StepIntake:
		if trigger == TriggerSubmit {
			return schemas.StepIntroVideo, nil
		}
	case schemas.StepIntroVideo:
		switch trigger {
		case TriggerVideoEnded, TriggerSkip, TriggerTimeout:
			return schemas.StepChoice, nil
		case TriggerBack:
			return schemas.StepIntake, nil
		}
	case schemas.StepChoice:
		if trigger == TriggerChoose {
			return schemas.StepPathVideo, nil
		}
	case schemas.StepPathVideo:
		switch trigger {
		case TriggerVideoEnded, TriggerSkip, TriggerTimeout:
			if opts.Feedback {
				return schemas.StepFeedback, nil
			}
			return schemas.StepDone, nil
		case TriggerBack:
			return schemas.StepChoice, nil
		}
	case schemas.StepFeedback:
		if trigger == TriggerSubmit {
			return schemas.StepDone, nil
		}
	}
	return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, trigger, from)
}

// Fold applies triggers in order starting from start. On the first invalid
// trigger it returns the step reached so far along with the error.
func Fold(start schemas.Step, triggers []Trigger, opts Options) (schemas.Step, error) {
	step := start
	for _, trigger := range triggers {
		next, err := Next(step, trigger, opts)
		if err != nil {
			return step, err
		}
		step = next
	}
	return step, nil
}
