package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/railx/ordertrack/pkg/state"
)

/*
 * The purpose of this is to detach the implementation of actions and modifiers
 * from the dispatcher that runs them.
 */

type Cargo struct {
	Logger       *slog.Logger
	Ctx          context.Context
	EventName    string
	Connection   *state.Connection
	Identity     state.Identity
	StateManager state.Manager
	Payload      json.RawMessage
	// order id the event addresses, resolved before the pipeline runs
	TargetID string
}

// simple, testable functions that receive a Cargo and resolved string parameters
type ActionFunc func(pctx *Cargo, params ...string) error

// ModifierFunc guards a pipeline; a non-nil error rejects the event before
// any action runs.
type ModifierFunc func(pctx *Cargo, params ...string) error

// represents one step in an execution pipeline
type Step struct {
	Name     string
	Function func(pctx *Cargo, params ...string) error
	Params   []string // Raw template strings from YAML
}

// Pipeline is the compiled form of one event.
type Pipeline struct {
	Modifiers []Step
	Actions   []Step
}
