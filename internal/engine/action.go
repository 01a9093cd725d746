package engine

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"webpilot-mcp-server/internal/scale"
)

// Kind enumerates the closed set of actions the engine dispatches. Anything
// outside this set fails as unsupported before touching the browser.
type Kind string

const (
	KindNavigate      Kind = "navigate"
	KindScreenshot    Kind = "screenshot"
	KindLeftClick     Kind = "left_click"
	KindRightClick    Kind = "right_click"
	KindMiddleClick   Kind = "middle_click"
	KindDoubleClick   Kind = "double_click"
	KindTripleClick   Kind = "triple_click"
	KindHover         Kind = "hover"
	KindLeftClickDrag Kind = "left_click_drag"
	KindLeftMouseDown Kind = "left_mouse_down"
	KindLeftMouseUp   Kind = "left_mouse_up"
	KindScroll        Kind = "scroll"
	KindScrollTo      Kind = "scroll_to"
	KindType          Kind = "type"
	KindKey           Kind = "key"
	KindHoldKey       Kind = "hold_key"
	KindReadPage      Kind = "read_page"
	KindFind          Kind = "find"
	KindGetPageText   Kind = "get_page_text"
	KindWait          Kind = "wait"
	KindFormInput     Kind = "form_input"
	KindZoom          Kind = "zoom"
	KindExecuteJS     Kind = "execute_js"
)

// Descriptor is a validated action request. Coordinates are in agent space
// until the dispatcher converts them.
type Descriptor struct {
	Kind            Kind
	Text            string
	Ref             int
	HasRef          bool
	Coordinate      *scale.Point
	StartCoordinate *scale.Point
	ScrollDirection string
	ScrollAmount    int
	Duration        float64 // seconds
	Value           string
	Region          []int // x1, y1, x2, y2 in agent space
}

// fieldSpec declares which input fields an action kind accepts.
type fieldSpec struct {
	required []string
	optional []string
}

var fieldSpecs = map[Kind]fieldSpec{
	KindNavigate:      {required: []string{"text"}},
	KindScreenshot:    {},
	KindLeftClick:     {optional: []string{"ref", "coordinate", "text"}},
	KindRightClick:    {optional: []string{"ref", "coordinate", "text"}},
	KindMiddleClick:   {optional: []string{"ref", "coordinate", "text"}},
	KindDoubleClick:   {optional: []string{"ref", "coordinate", "text"}},
	KindTripleClick:   {optional: []string{"ref", "coordinate", "text"}},
	KindHover:         {optional: []string{"ref", "coordinate"}},
	KindLeftClickDrag: {required: []string{"coordinate"}, optional: []string{"start_coordinate"}},
	KindLeftMouseDown: {optional: []string{"coordinate"}},
	KindLeftMouseUp:   {optional: []string{"coordinate"}},
	KindScroll:        {required: []string{"scroll_direction", "scroll_amount", "coordinate"}},
	KindScrollTo:      {required: []string{"ref"}},
	KindType:          {required: []string{"text"}},
	KindKey:           {required: []string{"text"}},
	KindHoldKey:       {required: []string{"text", "duration"}},
	KindReadPage:      {optional: []string{"text"}},
	KindFind:          {required: []string{"text"}},
	KindGetPageText:   {},
	KindWait:          {required: []string{"duration"}},
	KindFormInput:     {required: []string{"ref", "value"}},
	KindZoom:          {required: []string{"region"}},
	KindExecuteJS:     {required: []string{"text"}},
}

var scrollDirections = map[string]bool{"up": true, "down": true, "left": true, "right": true}

// ParseDescriptor validates raw tool arguments against the schema for their
// action kind and builds a Descriptor. It fails with a validation error
// before any browser interaction: unknown kinds, missing required fields,
// and fields the kind does not accept are all rejected here.
func ParseDescriptor(args map[string]interface{}) (Descriptor, error) {
	kindStr, _ := args["action"].(string)
	if kindStr == "" {
		return Descriptor{}, newError(ErrValidation, "", "action is required")
	}
	kind := Kind(kindStr)
	spec, ok := fieldSpecs[kind]
	if !ok {
		return Descriptor{}, newError(ErrUnsupportedAction, kind, "unknown action kind %q", kindStr)
	}

	allowed := map[string]bool{"action": true}
	for _, f := range spec.required {
		allowed[f] = true
	}
	for _, f := range spec.optional {
		allowed[f] = true
	}

	var extras []string
	for key := range args {
		if !allowed[key] {
			extras = append(extras, key)
		}
	}
	if len(extras) > 0 {
		sort.Strings(extras)
		return Descriptor{}, newError(ErrValidation, kind, "unexpected fields for %s: %s", kind, strings.Join(extras, ", "))
	}
	for _, f := range spec.required {
		if _, present := args[f]; !present {
			return Descriptor{}, newError(ErrValidation, kind, "%s requires %s", kind, f)
		}
	}

	d := Descriptor{Kind: kind}
	var err error

	if v, present := args["text"]; present {
		d.Text, err = asString(kind, "text", v)
		if err != nil {
			return Descriptor{}, err
		}
	}
	if v, present := args["value"]; present {
		d.Value, err = asString(kind, "value", v)
		if err != nil {
			return Descriptor{}, err
		}
	}
	if v, present := args["ref"]; present {
		d.Ref, err = asRef(kind, v)
		if err != nil {
			return Descriptor{}, err
		}
		d.HasRef = true
	}
	if v, present := args["coordinate"]; present {
		d.Coordinate, err = asPoint(kind, "coordinate", v)
		if err != nil {
			return Descriptor{}, err
		}
	}
	if v, present := args["start_coordinate"]; present {
		d.StartCoordinate, err = asPoint(kind, "start_coordinate", v)
		if err != nil {
			return Descriptor{}, err
		}
	}
	if v, present := args["scroll_direction"]; present {
		d.ScrollDirection, err = asString(kind, "scroll_direction", v)
		if err != nil {
			return Descriptor{}, err
		}
	}
	if v, present := args["scroll_amount"]; present {
		d.ScrollAmount, err = asInt(kind, "scroll_amount", v)
		if err != nil {
			return Descriptor{}, err
		}
	}
	if v, present := args["duration"]; present {
		d.Duration, err = asFloat(kind, "duration", v)
		if err != nil {
			return Descriptor{}, err
		}
	}
	if v, present := args["region"]; present {
		d.Region, err = asRegion(kind, v)
		if err != nil {
			return Descriptor{}, err
		}
	}

	if err := d.validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// validate enforces per-kind value constraints beyond field presence.
func (d Descriptor) validate() error {
	if d.HasRef && d.Coordinate != nil {
		return newError(ErrValidation, d.Kind, "ref and coordinate are mutually exclusive")
	}
	if d.HasRef && d.Ref <= 0 {
		return newError(ErrValidation, d.Kind, "ref must be a positive integer, got %d", d.Ref)
	}

	switch d.Kind {
	case KindNavigate:
		if strings.TrimSpace(d.Text) == "" {
			return newError(ErrValidation, d.Kind, "navigate requires a non-empty url, 'back', or 'forward'")
		}
	case KindScroll:
		if !scrollDirections[d.ScrollDirection] {
			return newError(ErrValidation, d.Kind, "scroll_direction must be up, down, left, or right, got %q", d.ScrollDirection)
		}
		if d.ScrollAmount <= 0 {
			return newError(ErrValidation, d.Kind, "scroll_amount must be positive, got %d", d.ScrollAmount)
		}
	case KindWait:
		if d.Duration < 0 || d.Duration > 100 {
			return newError(ErrValidation, d.Kind, "duration must be between 0 and 100 seconds, got %g", d.Duration)
		}
	case KindHoldKey:
		if d.Duration <= 0 || d.Duration > 100 {
			return newError(ErrValidation, d.Kind, "duration must be between 0 and 100 seconds, got %g", d.Duration)
		}
	case KindExecuteJS:
		if strings.TrimSpace(d.Text) == "" {
			return newError(ErrValidation, d.Kind, "execute_js requires code")
		}
	case KindReadPage:
		if d.Text != "" && d.Text != "interactive" && d.Text != "full" {
			return newError(ErrValidation, d.Kind, "read_page filter must be 'interactive' or 'full', got %q", d.Text)
		}
	case KindZoom:
		if len(d.Region) != 4 {
			return newError(ErrValidation, d.Kind, "region must be [x1, y1, x2, y2]")
		}
		if d.Region[0] == d.Region[2] || d.Region[1] == d.Region[3] {
			return newError(ErrValidation, d.Kind, "region must have non-zero area")
		}
	}
	return nil
}

// Kinds returns the supported action kinds in a stable order, for schema
// generation and error messages.
func Kinds() []string {
	out := make([]string, 0, len(fieldSpecs))
	for k := range fieldSpecs {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

func asString(kind Kind, field string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", newError(ErrValidation, kind, "%s must be a string, got %T", field, v)
	}
	return s, nil
}

func asInt(kind Kind, field string, v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, newError(ErrValidation, kind, "%s must be an integer, got %v", field, v)
		}
		return int(n), nil
	default:
		return 0, newError(ErrValidation, kind, "%s must be an integer, got %T", field, v)
	}
}

func asFloat(kind Kind, field string, v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, newError(ErrValidation, kind, "%s must be a number, got %T", field, v)
	}
}

// asRef accepts an integer ref or its common string spellings ("12",
// "ref_12") so agents copying refs out of snapshot text still resolve.
func asRef(kind Kind, v interface{}) (int, error) {
	switch r := v.(type) {
	case string:
		trimmed := strings.TrimPrefix(strings.TrimSpace(r), "ref_")
		n, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, newError(ErrValidation, kind, "ref must be an integer or 'ref_N', got %q", r)
		}
		return n, nil
	default:
		return asInt(kind, "ref", v)
	}
}

func asPoint(kind Kind, field string, v interface{}) (*scale.Point, error) {
	list, ok := v.([]interface{})
	if !ok || len(list) != 2 {
		return nil, newError(ErrValidation, kind, "%s must be [x, y]", field)
	}
	x, err := asInt(kind, field+"[0]", list[0])
	if err != nil {
		return nil, err
	}
	y, err := asInt(kind, field+"[1]", list[1])
	if err != nil {
		return nil, err
	}
	if x < 0 || y < 0 {
		return nil, newError(ErrValidation, kind, "%s must be non-negative, got [%d, %d]", field, x, y)
	}
	return &scale.Point{X: x, Y: y}, nil
}

func asRegion(kind Kind, v interface{}) ([]int, error) {
	list, ok := v.([]interface{})
	if !ok || len(list) != 4 {
		return nil, newError(ErrValidation, kind, "region must be [x1, y1, x2, y2]")
	}
	out := make([]int, 4)
	for i, raw := range list {
		n, err := asInt(kind, fmt.Sprintf("region[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		if n < 0 {
			return nil, newError(ErrValidation, kind, "region values must be non-negative")
		}
		out[i] = n
	}
	return out, nil
}
