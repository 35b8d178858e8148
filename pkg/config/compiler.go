package config

import (
	"fmt"

	"github.com/railx/ordertrack/pkg/pipeline"
	"github.com/railx/ordertrack/pkg/state"
)

type ActionFuncProvider func(name string) (pipeline.ActionFunc, bool)
type ModifierFuncProvider func(name string) (pipeline.ModifierFunc, bool)

// Compile registers custom permissions, resolves roles to bitmaps and turns
// every event's step names into executable pipelines.
func Compile(cfg *Config, actions ActionFuncProvider, modifiers ModifierFuncProvider) error {
	cfg.Registry = NewPermissionRegistry()
	for _, name := range cfg.Permissions {
		if err := cfg.Registry.Register(name); err != nil {
			return err
		}
	}

	cfg.RoleTable = make(map[string]state.Role, len(cfg.Roles))
	for name, rc := range cfg.Roles {
		perms, err := cfg.Registry.Compile(rc.Permissions)
		if err != nil {
			return fmt.Errorf("role '%s': %w", name, err)
		}
		cfg.RoleTable[name] = state.Role{Name: name, Permissions: perms, Global: rc.Global}
	}

	cfg.Pipelines = make(map[string]pipeline.Pipeline, len(cfg.Events))
	for eventName, eventCfg := range cfg.Events {
		var pipe pipeline.Pipeline
		for _, modCfg := range eventCfg.Modifiers {
			fn, ok := modifiers(modCfg.Name)
			if !ok {
				return fmt.Errorf("unknown modifier '%s' in event '%s'", modCfg.Name, eventName)
			}
			pipe.Modifiers = append(pipe.Modifiers, pipeline.Step{Name: modCfg.Name, Function: fn, Params: modCfg.Params})
		}
		for _, actionCfg := range eventCfg.Actions {
			// look up the Go function for this action name.
			fn, ok := actions(actionCfg.Name)
			if !ok {
				return fmt.Errorf("unknown action '%s' in event '%s'", actionCfg.Name, eventName)
			}
			pipe.Actions = append(pipe.Actions, pipeline.Step{Name: actionCfg.Name, Function: fn, Params: actionCfg.Params})
		}
		if len(pipe.Actions) == 0 {
			return fmt.Errorf("event '%s' has no actions", eventName)
		}
		cfg.Pipelines[eventName] = pipe
	}
	return nil
}
