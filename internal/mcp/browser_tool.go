package mcp

import (
	"context"
	"encoding/base64"
	"strings"

	"webpilot-mcp-server/internal/engine"
)

// BrowserTool exposes the whole action vocabulary as a single MCP tool.
// The agent passes an action name plus the fields that action accepts; the
// dispatcher validates the combination and performs it against the live page.
type BrowserTool struct {
	dispatcher *engine.Dispatcher
}

func (t *BrowserTool) Name() string { return "browser" }

func (t *BrowserTool) Description() string {
	return `Perform one browser action. Supported actions:
- navigate: go to a URL (text), or "back"/"forward" for history
- read_page: structured snapshot of the page with [ref=N] markers for interactive elements
- find: locate interactive elements whose accessible name matches text
- left_click / right_click / middle_click / double_click / triple_click: click a ref or coordinate; text may hold modifier keys like "ctrl+shift"
- hover: move the pointer over a ref or coordinate
- left_click_drag: drag from start_coordinate to coordinate
- left_mouse_down / left_mouse_up: press or release the left button
- type: insert text at the focused element
- key: press a key or combo like "ctrl+a" or "Enter"
- hold_key: hold text keys down for duration seconds
- form_input: set value on the form control at ref
- scroll: wheel-scroll scroll_amount ticks in scroll_direction at coordinate
- scroll_to: bring the element at ref into view
- zoom: screenshot the region [x0,y0,x1,y1]
- screenshot: capture the viewport
- get_page_text: full visible text of the page
- execute_js: run a JavaScript function body and return its JSON result
- wait: pause for duration seconds (cancellable via cancel-wait)
Coordinates are in the agent's scaled space; refs come from read_page or find.`
}

func (t *BrowserTool) InputSchema() map[string]interface{} {
	coordinate := map[string]interface{}{
		"type":     "array",
		"items":    map[string]interface{}{"type": "integer", "minimum": 0},
		"minItems": 2,
		"maxItems": 2,
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"enum":        actionNames(),
				"description": "Which action to perform",
			},
			"text": map[string]interface{}{
				"type":        "string",
				"description": "URL, search text, keys, script, or modifier keys depending on action",
			},
			"ref": map[string]interface{}{
				"type":        []string{"integer", "string"},
				"description": "Element reference from read_page or find (e.g. 12 or \"ref_12\")",
			},
			"value": map[string]interface{}{
				"type":        "string",
				"description": "Value to set with form_input",
			},
			"coordinate":       coordinate,
			"start_coordinate": coordinate,
			"scroll_direction": map[string]interface{}{
				"type": "string",
				"enum": []string{"up", "down", "left", "right"},
			},
			"scroll_amount": map[string]interface{}{
				"type":    "integer",
				"minimum": 1,
			},
			"duration": map[string]interface{}{
				"type":        "number",
				"description": "Seconds for wait or hold_key",
			},
			"region": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "integer", "minimum": 0},
				"minItems":    4,
				"maxItems":    4,
				"description": "Zoom region as [x0, y0, x1, y1]",
			},
		},
		"required": []string{"action"},
	}
}

func (t *BrowserTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	res := t.dispatcher.Execute(ctx, args)

	out := map[string]interface{}{
		"success":     res.Err == nil,
		"state":       string(res.State),
		"action":      string(res.Kind),
		"duration_ms": res.Elapsed.Milliseconds(),
	}
	if res.Text != "" {
		out["text"] = res.Text
	}
	if len(res.Screenshot) > 0 {
		out["screenshot"] = base64.StdEncoding.EncodeToString(res.Screenshot)
		out["screenshot_format"] = "png"
	}
	if res.Err != nil {
		out["error"] = map[string]interface{}{
			"kind":    string(res.Err.Kind),
			"message": res.Err.Error(),
		}
	}
	return out, nil
}

func actionNames() []string {
	return engine.Kinds()
}

// CancelWaitTool aborts a pending wait action from a parallel tool call.
type CancelWaitTool struct {
	dispatcher *engine.Dispatcher
}

func (t *CancelWaitTool) Name() string { return "cancel-wait" }

func (t *CancelWaitTool) Description() string {
	return strings.TrimSpace(`
Cancel a wait action that is currently sleeping. Has no effect on other
action kinds. The cancelled wait returns normally with a cancellation note.`)
}

func (t *CancelWaitTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}

func (t *CancelWaitTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	t.dispatcher.CancelWait()
	return map[string]interface{}{
		"success": true,
		"message": "cancellation requested",
	}, nil
}
