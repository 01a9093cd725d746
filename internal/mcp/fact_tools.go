package mcp

import (
	"context"
	"fmt"
	"time"

	"webpilot-mcp-server/internal/facts"
)

const defaultFactLimit = 25

// ReadFactsTool returns a recent slice of the telemetry fact buffer.
type ReadFactsTool struct {
	store *facts.Store
}

func (t *ReadFactsTool) Name() string { return "read-facts" }
func (t *ReadFactsTool) Description() string {
	return `Read recent telemetry facts from the buffer.

Facts are emitted automatically: action_event(kind, status, error, ms),
navigation_event(url, direction, status), snapshot_event(epoch, nodes, truncated).

Optional filters:
- predicate: only facts with this predicate
- limit: max facts to return (default 25, newest last)`
}
func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{"type": "string"},
			"limit":     map[string]interface{}{"type": "integer", "minimum": 1},
		},
	}
}
func (t *ReadFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	limit := getIntArg(args, "limit", defaultFactLimit)

	var source []facts.Fact
	if predicate != "" {
		source = t.store.FactsByPredicate(predicate)
	} else {
		source = t.store.Facts()
	}
	if len(source) > limit {
		source = source[len(source)-limit:]
	}

	return map[string]interface{}{
		"count":     len(source),
		"predicate": predicate,
		"facts":     source,
	}, nil
}

// QueryFactsTool runs a Mangle query against the fact store.
type QueryFactsTool struct {
	store *facts.Store
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Run a Mangle query over the telemetry facts.

Example queries:
- action_event(Kind, "failed", Error, Ms)
- navigation_event(Url, Direction, Status)
- failed_action(Kind, Error)

Variables start with an uppercase letter and come back as bindings.`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle query atom, e.g. action_event(Kind, Status, Error, Ms)",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := getStringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	results, err := t.store.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return map[string]interface{}{
		"count":   len(results),
		"query":   query,
		"results": results,
	}, nil
}

// QueryTemporalTool reads facts of one predicate inside a time window.
type QueryTemporalTool struct {
	store *facts.Store
}

func (t *QueryTemporalTool) Name() string { return "query-temporal" }
func (t *QueryTemporalTool) Description() string {
	return `Read facts of a predicate within a time window.

after/before are RFC 3339 timestamps; either side may be omitted for an
open-ended window.`
}
func (t *QueryTemporalTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{"type": "string"},
			"after":     map[string]interface{}{"type": "string", "format": "date-time"},
			"before":    map[string]interface{}{"type": "string", "format": "date-time"},
		},
		"required": []string{"predicate"},
	}
}
func (t *QueryTemporalTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}

	var after, before time.Time
	if v := getStringArg(args, "after"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid after timestamp: %w", err)
		}
		after = parsed
	}
	if v := getStringArg(args, "before"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("invalid before timestamp: %w", err)
		}
		before = parsed
	}

	matched := t.store.QueryTemporal(predicate, after, before)
	return map[string]interface{}{
		"count":     len(matched),
		"predicate": predicate,
		"facts":     matched,
	}, nil
}

// EvaluateRuleTool derives facts for a rule head such as failed_action.
type EvaluateRuleTool struct {
	store *facts.Store
}

func (t *EvaluateRuleTool) Name() string { return "evaluate-rule" }
func (t *EvaluateRuleTool) Description() string {
	return `Evaluate a derived predicate over the current facts.

Built-in derived predicates:
- failed_action(Kind, Error): actions that failed and why
- failed_navigation(Url): navigations that failed

Returns all derived facts for the predicate.`
}
func (t *EvaluateRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{"type": "string"},
		},
		"required": []string{"predicate"},
	}
}
func (t *EvaluateRuleTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}

	derived, err := t.store.Evaluate(ctx, predicate)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	return map[string]interface{}{
		"count":     len(derived),
		"predicate": predicate,
		"facts":     derived,
	}, nil
}
