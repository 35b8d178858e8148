package router

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/railx/ordertrack/pkg/pipeline"
)

func (r *EventRouter) runStep(pctx *pipeline.Cargo, step pipeline.Step) error {
	params, err := r.resolveParams(pctx, step.Params)
	if err != nil {
		return fmt.Errorf("step '%s': %w", step.Name, err)
	}
	pctx.Logger.Debug("Executing step", slog.String("step", step.Name))
	return step.Function(pctx, params...)
}

// resolveParams expands "{.payload}", "{.payload.<path>}" and "{$<variable>}"
// templates. Anything else is passed through verbatim.
func (r *EventRouter) resolveParams(pctx *pipeline.Cargo, templates []string) ([]string, error) {
	resolved := make([]string, len(templates))
	payloadStr := string(pctx.Payload)

	for i, tpl := range templates {
		if !strings.HasPrefix(tpl, "{") || !strings.HasSuffix(tpl, "}") {
			// just a string not a template
			resolved[i] = tpl
			continue
		}
		inner := tpl[1 : len(tpl)-1]

		if name, ok := strings.CutPrefix(inner, "$"); ok {
			resolver, found := r.params.GetParamResolver(name)
			if !found {
				return nil, fmt.Errorf("unknown param variable '%s'", name)
			}
			value, err := resolver(pctx)
			if err != nil {
				return nil, err
			}
			resolved[i] = value
			continue
		}

		path, ok := strings.CutPrefix(inner, ".")
		if !ok {
			resolved[i] = tpl
			continue
		}
		if path == "payload" {
			// Special case: {.payload} resolves raw payload
			resolved[i] = payloadStr
			continue
		}
		if subPath, ok := strings.CutPrefix(path, "payload."); ok {
			value := gjson.Get(payloadStr, subPath)
			if !value.Exists() {
				resolved[i] = ""
				continue
			}
			resolved[i] = value.String()
			continue
		}
		return nil, fmt.Errorf("unrecognized template path '%s'", path)
	}
	return resolved, nil
}
