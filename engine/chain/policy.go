package chain

import (
	"fmt"
	"strings"

	"github.com/squidspace/sqs/engine/core"
)

// Policy decides what happens after a stage that did not process its whole working set.
type Policy int

const (
	// PolicyContinue marks the run failed and keeps going with whatever the stage produced.
	PolicyContinue Policy = iota
	// PolicyAbort stops the chain at the first incomplete stage.
	PolicyAbort
)

func (p Policy) String() string {
	switch p {
	case PolicyAbort:
		return "abort"
	default:
		return "continue"
	}
}

func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "continue":
		return PolicyContinue, nil
	case "abort":
		return PolicyAbort, nil
	default:
		return PolicyContinue, core.NewError(
			fmt.Errorf("unknown chain policy %q", raw),
			core.CodeInvalidArgument,
			map[string]any{"policy": raw},
		)
	}
}
