package testhelpers

import (
	"fmt"

	shipiterrors "shipit.dev/shipit/internal/errors"
)

// ScriptedOperator answers prompts from a script. Unscripted prompts fail the
// run, so a test without a script proves no operator input was needed.
type ScriptedOperator struct {
	// Answers are returned by Confirm in order
	Answers []bool
	// OnAcknowledge performs the operator's work when asked to
	OnAcknowledge func(message string) error

	// Prompts records every message shown by Confirm and Acknowledge
	Prompts []string
	// Shown records the text passed to Show
	Shown []string
}

// NewScriptedOperator returns an operator that refuses all prompts
func NewScriptedOperator() *ScriptedOperator {
	return &ScriptedOperator{}
}

// ResolvingWith returns an operator that commits the conflicted merge of repo
// every time a manual fix is requested
func ResolvingWith(repo *MemRepo) *ScriptedOperator {
	return &ScriptedOperator{
		OnAcknowledge: func(string) error {
			return repo.CommitResolution("fix")
		},
	}
}

func (o *ScriptedOperator) Confirm(message string) (bool, error) {
	o.Prompts = append(o.Prompts, message)
	if len(o.Answers) == 0 {
		return false, fmt.Errorf("%w: unexpected question %q", shipiterrors.ErrResolutionAborted, message)
	}
	answer := o.Answers[0]
	o.Answers = o.Answers[1:]
	return answer, nil
}

func (o *ScriptedOperator) Acknowledge(message string) error {
	o.Prompts = append(o.Prompts, message)
	if o.OnAcknowledge == nil {
		return fmt.Errorf("%w: unexpected request %q", shipiterrors.ErrResolutionAborted, message)
	}
	return o.OnAcknowledge(message)
}

func (o *ScriptedOperator) Show(text string) {
	o.Shown = append(o.Shown, text)
}
