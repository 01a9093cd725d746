package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"webpilot-mcp-server/internal/browser"
	"webpilot-mcp-server/internal/config"
	"webpilot-mcp-server/internal/facts"
	"webpilot-mcp-server/internal/recorder"
	"webpilot-mcp-server/internal/scale"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// State names the dispatch machine's position. Every action walks
// Idle -> Resolving -> Mutating -> Observing -> Done, or short-circuits
// to Failed.
type State string

const (
	StateIdle      State = "idle"
	StateResolving State = "resolving"
	StateMutating  State = "mutating"
	StateObserving State = "observing"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Result is the typed outcome of one dispatched action. Exactly one Result
// comes back per Execute call; failures ride in Err rather than crossing
// the engine boundary as panics or raw errors.
type Result struct {
	State      State         `json:"state"`
	Kind       Kind          `json:"kind"`
	Text       string        `json:"text,omitempty"`
	Screenshot []byte        `json:"-"`
	Err        *Error        `json:"-"`
	Elapsed    time.Duration `json:"-"`
}

const (
	interactRetries = 3
	retryBaseDelay  = 100 * time.Millisecond
)

// Dispatcher serializes all browser actions through a single lock and the
// state machine above. One descriptor is in flight at a time; a second
// Execute call blocks until the first reaches Done or Failed.
type Dispatcher struct {
	browserCfg config.BrowserConfig
	sessions   *browser.SessionManager
	mapper     *scale.Mapper
	engineCfg  config.EngineConfig
	sink       browser.FactSink
	trace      *recorder.Recorder

	mu sync.Mutex // the action lock

	stateMu sync.RWMutex
	state   State

	waitMu     sync.Mutex
	waitCancel context.CancelFunc
}

// NewDispatcher wires the engine together. The coordinate mapper is derived
// from the configured real viewport and agent resolutions.
func NewDispatcher(cfg config.Config, sessions *browser.SessionManager, sink browser.FactSink) (*Dispatcher, error) {
	mapper, err := scale.NewMapper(scale.Viewport{
		RealWidth:   cfg.Browser.GetViewportWidth(),
		RealHeight:  cfg.Browser.GetViewportHeight(),
		AgentWidth:  cfg.Engine.GetAgentWidth(),
		AgentHeight: cfg.Engine.GetAgentHeight(),
	})
	if err != nil {
		return nil, fmt.Errorf("coordinate mapper: %w", err)
	}
	return &Dispatcher{
		browserCfg: cfg.Browser,
		engineCfg:  cfg.Engine,
		sessions:   sessions,
		mapper:     mapper,
		sink:       sink,
		state:      StateIdle,
	}, nil
}

// Mapper exposes the agent/real coordinate transform.
func (d *Dispatcher) Mapper() *scale.Mapper { return d.mapper }

// SetTrace attaches a durable action trace. Pass nil to disable.
func (d *Dispatcher) SetTrace(r *recorder.Recorder) { d.trace = r }

// State returns the machine's current position.
func (d *Dispatcher) State() State {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return d.state
}

func (d *Dispatcher) setState(s State) {
	d.stateMu.Lock()
	d.state = s
	d.stateMu.Unlock()
}

// CancelWait aborts a pending wait action, if one is sleeping. Other action
// kinds are atomic from the engine's perspective and cannot be cancelled.
func (d *Dispatcher) CancelWait() {
	d.waitMu.Lock()
	defer d.waitMu.Unlock()
	if d.waitCancel != nil {
		d.waitCancel()
	}
}

// Execute validates, resolves, actuates, and observes one action. All
// browser interaction happens under the action lock; concurrent callers
// queue rather than interleave.
func (d *Dispatcher) Execute(ctx context.Context, args map[string]interface{}) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	d.setState(StateResolving)

	desc, err := ParseDescriptor(args)
	if err != nil {
		return d.finish(ctx, desc, start, Result{Kind: desc.Kind}, asEngineError(desc.Kind, err))
	}

	res, aerr := d.run(ctx, desc)
	res.Kind = desc.Kind
	return d.finish(ctx, desc, start, res, aerr)
}

// finish closes out the state machine, emits telemetry, and shapes the
// final Result.
func (d *Dispatcher) finish(ctx context.Context, desc Descriptor, start time.Time, res Result, aerr *Error) Result {
	res.Elapsed = time.Since(start)
	status := "ok"
	errKind := ""
	if aerr != nil {
		res.Err = aerr
		res.State = StateFailed
		d.setState(StateFailed)
		status = "failed"
		errKind = string(aerr.Kind)
	} else {
		res.State = StateDone
		d.setState(StateDone)
	}

	if d.sink != nil {
		_ = d.sink.AddFacts(ctx, []facts.Fact{{
			Predicate: "action_event",
			Args:      []interface{}{string(desc.Kind), status, errKind, res.Elapsed.Milliseconds()},
			Timestamp: time.Now(),
		}})
	}
	if d.trace != nil {
		d.trace.Record(string(desc.Kind), status, errKind, res.Elapsed)
	}
	return res
}

// run performs the Resolving, Mutating, and Observing stages.
func (d *Dispatcher) run(ctx context.Context, desc Descriptor) (Result, *Error) {
	// wait never touches the browser.
	if desc.Kind == KindWait {
		return d.doWait(ctx, desc)
	}

	page, err := d.sessions.EnsureSession(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrSessionLost) {
			return Result{}, wrapError(ErrSessionLost, desc.Kind, err, "browser session unrecoverable")
		}
		return Result{}, wrapError(ErrNavigation, desc.Kind, err, "browser unavailable")
	}

	// Resolve the target while still in Resolving.
	var el *rod.Element
	var point *scale.Point
	if desc.HasRef {
		resolved, rerr := d.resolveRef(page, desc)
		if rerr != nil {
			return Result{}, rerr
		}
		el = resolved
	}
	if desc.Coordinate != nil {
		p := d.mapper.ToReal(*desc.Coordinate)
		point = &p
	}

	d.setState(StateMutating)

	switch desc.Kind {
	case KindNavigate:
		return d.doNavigate(ctx, page, desc)
	case KindScreenshot:
		return d.observe(ctx, page, desc, Result{})
	case KindLeftClick, KindRightClick, KindMiddleClick, KindDoubleClick, KindTripleClick:
		return d.doClick(ctx, page, desc, el, point)
	case KindHover:
		return d.doHover(ctx, page, desc, el, point)
	case KindLeftClickDrag:
		return d.doDrag(ctx, page, desc, point)
	case KindLeftMouseDown, KindLeftMouseUp:
		return d.doMouseButton(ctx, page, desc, point)
	case KindScroll:
		return d.doScroll(ctx, page, desc, point)
	case KindScrollTo:
		return d.doScrollTo(ctx, page, desc, el)
	case KindType:
		return d.doType(ctx, page, desc)
	case KindKey:
		return d.doKey(ctx, page, desc)
	case KindHoldKey:
		return d.doHoldKey(ctx, page, desc)
	case KindFormInput:
		return d.doFormInput(ctx, page, desc, el)
	case KindReadPage:
		return d.doReadPage(ctx, page, desc)
	case KindFind:
		return d.doFind(ctx, page, desc)
	case KindGetPageText:
		return d.doGetPageText(ctx, page, desc)
	case KindExecuteJS:
		return d.doExecuteJS(ctx, page, desc)
	case KindZoom:
		return d.doZoom(ctx, page, desc)
	default:
		return Result{}, newError(ErrUnsupportedAction, desc.Kind, "no actuation for %s", desc.Kind)
	}
}

// resolveRef turns a ref into a live element, distinguishing unknown refs,
// stale refs, and elements that vanished since the last snapshot.
func (d *Dispatcher) resolveRef(page *rod.Page, desc Descriptor) (*rod.Element, *Error) {
	reg := d.sessions.Registry()
	loc, err := reg.Resolve(desc.Ref)
	if err != nil {
		switch {
		case errors.Is(err, browser.ErrRefNotFound):
			return nil, newError(ErrRefNotFound, desc.Kind, "ref %d was never issued; take a snapshot first", desc.Ref)
		case errors.Is(err, browser.ErrRefStale):
			return nil, newError(ErrRefStale, desc.Kind, "ref %d is stale; the element left the page or the page navigated", desc.Ref)
		default:
			return nil, wrapError(ErrRefNotFound, desc.Kind, err, fmt.Sprintf("resolving ref %d", desc.Ref))
		}
	}

	el, err := browser.ResolveElement(page, loc)
	if err != nil {
		// Known ref whose element no longer resolves in the live DOM.
		reg.MarkStale(desc.Ref)
		return nil, wrapError(ErrRefStale, desc.Kind, err, fmt.Sprintf("ref %d no longer resolves", desc.Ref))
	}
	return el, nil
}

// ---------------------------------------------------------------------------
// Actuations

func (d *Dispatcher) doNavigate(ctx context.Context, page *rod.Page, desc Descriptor) (Result, *Error) {
	if err := d.sessions.Navigate(ctx, desc.Text); err != nil {
		switch {
		case errors.Is(err, browser.ErrSessionLost):
			return Result{}, wrapError(ErrSessionLost, desc.Kind, err, "session lost during navigation")
		case isTimeout(err):
			return Result{}, wrapError(ErrTimeout, desc.Kind, err, fmt.Sprintf("navigation to %q timed out", desc.Text))
		default:
			return Result{}, wrapError(ErrNavigation, desc.Kind, err, fmt.Sprintf("navigation to %q failed", desc.Text))
		}
	}
	return d.observe(ctx, page, desc, Result{})
}

// clickButton maps an action kind to its mouse button and click count.
func clickButton(kind Kind) (proto.InputMouseButton, int) {
	switch kind {
	case KindRightClick:
		return proto.InputMouseButtonRight, 1
	case KindMiddleClick:
		return proto.InputMouseButtonMiddle, 1
	case KindDoubleClick:
		return proto.InputMouseButtonLeft, 2
	case KindTripleClick:
		return proto.InputMouseButtonLeft, 3
	default:
		return proto.InputMouseButtonLeft, 1
	}
}

func (d *Dispatcher) doClick(ctx context.Context, page *rod.Page, desc Descriptor, el *rod.Element, point *scale.Point) (Result, *Error) {
	timed := page.Context(ctx).Timeout(d.browserCfg.ActionTimeout())
	button, count := clickButton(desc.Kind)

	var held []input.Key
	if desc.Text != "" {
		keys, err := ParseKeySequence(desc.Text)
		if err != nil {
			return Result{}, asEngineError(desc.Kind, err)
		}
		for _, k := range keys {
			if !IsModifier(k) {
				return Result{}, newError(ErrValidation, desc.Kind, "click text must name modifier keys, got %q", desc.Text)
			}
		}
		held = keys
	}

	act := func() error {
		if el != nil {
			pt, ierr := d.interactablePoint(el)
			if ierr != nil {
				return ierr
			}
			if err := timed.Mouse.MoveTo(*pt); err != nil {
				return err
			}
		} else if point != nil {
			if err := timed.Mouse.MoveTo(proto.Point{X: float64(point.X), Y: float64(point.Y)}); err != nil {
				return err
			}
		}

		for _, k := range held {
			if err := timed.Keyboard.Press(k); err != nil {
				return err
			}
		}
		clickErr := timed.Mouse.Click(button, count)
		for i := len(held) - 1; i >= 0; i-- {
			_ = timed.Keyboard.Release(held[i])
		}
		return clickErr
	}

	if err := d.withRetry(ctx, act); err != nil {
		return Result{}, d.classifyActuation(desc, err)
	}
	return d.observe(ctx, page, desc, Result{})
}

func (d *Dispatcher) doHover(ctx context.Context, page *rod.Page, desc Descriptor, el *rod.Element, point *scale.Point) (Result, *Error) {
	timed := page.Context(ctx).Timeout(d.browserCfg.ActionTimeout())

	act := func() error {
		if el != nil {
			pt, ierr := d.interactablePoint(el)
			if ierr != nil {
				return ierr
			}
			return timed.Mouse.MoveTo(*pt)
		}
		if point != nil {
			return timed.Mouse.MoveTo(proto.Point{X: float64(point.X), Y: float64(point.Y)})
		}
		return nil
	}

	if err := d.withRetry(ctx, act); err != nil {
		return Result{}, d.classifyActuation(desc, err)
	}
	return d.observe(ctx, page, desc, Result{})
}

// dragSteps is the number of intermediate pointer moves during a drag.
const dragSteps = 4

func (d *Dispatcher) doDrag(ctx context.Context, page *rod.Page, desc Descriptor, dest *scale.Point) (Result, *Error) {
	timed := page.Context(ctx).Timeout(d.browserCfg.ActionTimeout())

	if desc.StartCoordinate != nil {
		start := d.mapper.ToReal(*desc.StartCoordinate)
		if err := timed.Mouse.MoveTo(proto.Point{X: float64(start.X), Y: float64(start.Y)}); err != nil {
			return Result{}, d.classifyActuation(desc, err)
		}
	}
	if err := timed.Mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return Result{}, d.classifyActuation(desc, err)
	}
	// MoveLinear interpolates from the pointer's current position, so drag
	// handlers see intermediate moves along the start-to-destination line.
	target := proto.Point{X: float64(dest.X), Y: float64(dest.Y)}
	if err := timed.Mouse.MoveLinear(target, dragSteps); err != nil {
		_ = timed.Mouse.Up(proto.InputMouseButtonLeft, 1)
		return Result{}, d.classifyActuation(desc, err)
	}
	if err := timed.Mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return Result{}, d.classifyActuation(desc, err)
	}
	return d.observe(ctx, page, desc, Result{})
}

func (d *Dispatcher) doMouseButton(ctx context.Context, page *rod.Page, desc Descriptor, point *scale.Point) (Result, *Error) {
	timed := page.Context(ctx).Timeout(d.browserCfg.ActionTimeout())

	if point != nil {
		if err := timed.Mouse.MoveTo(proto.Point{X: float64(point.X), Y: float64(point.Y)}); err != nil {
			return Result{}, d.classifyActuation(desc, err)
		}
	}
	var err error
	if desc.Kind == KindLeftMouseDown {
		err = timed.Mouse.Down(proto.InputMouseButtonLeft, 1)
	} else {
		err = timed.Mouse.Up(proto.InputMouseButtonLeft, 1)
	}
	if err != nil {
		return Result{}, d.classifyActuation(desc, err)
	}
	return d.observe(ctx, page, desc, Result{})
}

// scrollStepPixels is the wheel delta applied per scroll_amount unit.
const scrollStepPixels = 100.0

func (d *Dispatcher) doScroll(ctx context.Context, page *rod.Page, desc Descriptor, point *scale.Point) (Result, *Error) {
	timed := page.Context(ctx).Timeout(d.browserCfg.ActionTimeout())

	if point != nil {
		if err := timed.Mouse.MoveTo(proto.Point{X: float64(point.X), Y: float64(point.Y)}); err != nil {
			return Result{}, d.classifyActuation(desc, err)
		}
	}

	delta := scrollStepPixels * float64(desc.ScrollAmount)
	var dx, dy float64
	switch desc.ScrollDirection {
	case "up":
		dy = -delta
	case "down":
		dy = delta
	case "left":
		dx = -delta
	case "right":
		dx = delta
	}

	if err := timed.Mouse.Scroll(dx, dy, desc.ScrollAmount); err != nil {
		return Result{}, d.classifyActuation(desc, err)
	}
	return d.observe(ctx, page, desc, Result{})
}

func (d *Dispatcher) doScrollTo(ctx context.Context, page *rod.Page, desc Descriptor, el *rod.Element) (Result, *Error) {
	timed := el.Context(ctx).Timeout(d.browserCfg.ActionTimeout())

	act := func() error {
		return timed.ScrollIntoView()
	}
	if err := d.withRetry(ctx, act); err != nil {
		return Result{}, d.classifyActuation(desc, err)
	}
	return d.observe(ctx, page, desc, Result{})
}

func (d *Dispatcher) doType(ctx context.Context, page *rod.Page, desc Descriptor) (Result, *Error) {
	timed := page.Context(ctx).Timeout(d.browserCfg.ActionTimeout())
	if err := timed.InsertText(desc.Text); err != nil {
		return Result{}, d.classifyActuation(desc, err)
	}
	return d.observe(ctx, page, desc, Result{})
}

func (d *Dispatcher) doKey(ctx context.Context, page *rod.Page, desc Descriptor) (Result, *Error) {
	keys, err := ParseKeySequence(desc.Text)
	if err != nil {
		return Result{}, asEngineError(desc.Kind, err)
	}
	held, tapped := SplitModifiers(keys)

	timed := page.Context(ctx).Timeout(d.browserCfg.ActionTimeout())
	for _, k := range held {
		if err := timed.Keyboard.Press(k); err != nil {
			return Result{}, d.classifyActuation(desc, err)
		}
	}
	var tapErr error
	for _, k := range tapped {
		if tapErr = timed.Keyboard.Type(k); tapErr != nil {
			break
		}
	}
	for i := len(held) - 1; i >= 0; i-- {
		_ = timed.Keyboard.Release(held[i])
	}
	if tapErr != nil {
		return Result{}, d.classifyActuation(desc, tapErr)
	}
	return d.observe(ctx, page, desc, Result{})
}

func (d *Dispatcher) doHoldKey(ctx context.Context, page *rod.Page, desc Descriptor) (Result, *Error) {
	keys, err := ParseKeySequence(desc.Text)
	if err != nil {
		return Result{}, asEngineError(desc.Kind, err)
	}

	timed := page.Context(ctx)
	for _, k := range keys {
		if err := timed.Keyboard.Press(k); err != nil {
			return Result{}, d.classifyActuation(desc, err)
		}
	}
	sleepErr := sleepWithContext(ctx, time.Duration(desc.Duration*float64(time.Second)))
	for i := len(keys) - 1; i >= 0; i-- {
		_ = timed.Keyboard.Release(keys[i])
	}
	if sleepErr != nil {
		return Result{}, wrapError(ErrTimeout, desc.Kind, sleepErr, "hold interrupted")
	}
	return d.observe(ctx, page, desc, Result{})
}

func (d *Dispatcher) doFormInput(ctx context.Context, page *rod.Page, desc Descriptor, el *rod.Element) (Result, *Error) {
	timed := el.Context(ctx).Timeout(d.browserCfg.ActionTimeout())

	tagProp, err := timed.Property("tagName")
	if err != nil {
		return Result{}, d.classifyActuation(desc, err)
	}

	if strings.EqualFold(tagProp.Str(), "select") {
		byValue := fmt.Sprintf(`[value=%q]`, desc.Value)
		if err := timed.Select([]string{byValue}, true, rod.SelectorTypeCSSSector); err != nil {
			if err := timed.Select([]string{desc.Value}, true, rod.SelectorTypeText); err != nil {
				return Result{}, newError(ErrNotInteractable, desc.Kind, "option %q not found in select", desc.Value)
			}
		}
	} else {
		// Set the value directly and fire the events frameworks listen for,
		// rather than simulating keystrokes.
		_, err := timed.Eval(`(value) => {
			this.value = value;
			this.dispatchEvent(new Event('input', { bubbles: true }));
			this.dispatchEvent(new Event('change', { bubbles: true }));
		}`, desc.Value)
		if err != nil {
			return Result{}, d.classifyActuation(desc, err)
		}
	}

	return d.observe(ctx, page, desc, Result{Text: fmt.Sprintf("Set value %q on ref %d", desc.Value, desc.Ref)})
}

func (d *Dispatcher) doReadPage(ctx context.Context, page *rod.Page, desc Descriptor) (Result, *Error) {
	filter := desc.Text
	if filter == "" {
		filter = browser.FilterInteractive
	}
	snap, err := browser.BuildSnapshot(ctx, page,
		d.sessions.Registry(),
		d.engineCfg.GetMaxSnapshotNodes(),
		d.engineCfg.GetMaxSnapshotDepth(),
		filter,
		d.sink)
	if err != nil {
		return Result{}, d.classifyActuation(desc, err)
	}
	return Result{Text: browser.FormatTree(snap)}, nil
}

func (d *Dispatcher) doFind(ctx context.Context, page *rod.Page, desc Descriptor) (Result, *Error) {
	snap, err := browser.BuildSnapshot(ctx, page,
		d.sessions.Registry(),
		d.engineCfg.GetMaxSnapshotNodes(),
		d.engineCfg.GetMaxSnapshotDepth(),
		browser.FilterInteractive,
		d.sink)
	if err != nil {
		return Result{}, d.classifyActuation(desc, err)
	}

	query := strings.ToLower(desc.Text)
	var matches []string
	var matchRefs []int
	var walk func(n *browser.SnapshotNode)
	walk = func(n *browser.SnapshotNode) {
		if n == nil {
			return
		}
		if n.Ref != 0 && strings.Contains(strings.ToLower(n.Name), query) {
			matches = append(matches, fmt.Sprintf("- %s %q [ref=%d]", n.Role, n.Name, n.Ref))
			matchRefs = append(matchRefs, n.Ref)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(snap.Root)

	d.highlight(page, matchRefs)

	var b strings.Builder
	fmt.Fprintf(&b, "Find %q on %s\n", desc.Text, snap.URL)
	if len(matches) == 0 {
		b.WriteString("No matching interactive elements found.\n")
	} else {
		fmt.Fprintf(&b, "%d match(es):\n", len(matches))
		for _, m := range matches {
			b.WriteString(m)
			b.WriteString("\n")
		}
	}
	return Result{Text: b.String()}, nil
}

// highlight outlines found elements so a follow-up screenshot shows them.
// Best effort; a vanished element just loses its outline.
func (d *Dispatcher) highlight(page *rod.Page, refs []int) {
	const maxHighlights = 10
	reg := d.sessions.Registry()
	for i, ref := range refs {
		if i >= maxHighlights {
			return
		}
		loc, err := reg.Resolve(ref)
		if err != nil {
			continue
		}
		el, err := browser.ResolveElement(page, loc)
		if err != nil {
			continue
		}
		_, _ = el.Eval(`() => {
			this.style.outline = '2px solid #e53935';
			this.style.outlineOffset = '2px';
		}`)
	}
}

func (d *Dispatcher) doGetPageText(ctx context.Context, page *rod.Page, desc Descriptor) (Result, *Error) {
	timed := page.Context(ctx).Timeout(d.browserCfg.ActionTimeout())
	res, err := timed.Eval(`() => ({
		url: window.location.href,
		title: document.title,
		text: document.body ? document.body.innerText : ''
	})`)
	if err != nil {
		return Result{}, d.classifyActuation(desc, err)
	}

	payload, err := res.Value.MarshalJSON()
	if err != nil {
		return Result{}, wrapError(ErrScriptExecution, desc.Kind, err, "decoding page text")
	}
	var data struct {
		URL   string `json:"url"`
		Title string `json:"title"`
		Text  string `json:"text"`
	}
	if err := json.Unmarshal(payload, &data); err != nil {
		return Result{}, wrapError(ErrScriptExecution, desc.Kind, err, "decoding page text")
	}

	text := fmt.Sprintf("Page URL: %s\nPage Title: %s\n\n%s", data.URL, data.Title, data.Text)
	return Result{Text: text}, nil
}

func (d *Dispatcher) doExecuteJS(ctx context.Context, page *rod.Page, desc Descriptor) (Result, *Error) {
	timed := page.Context(ctx).Timeout(d.browserCfg.ActionTimeout())
	res, err := timed.Eval(desc.Text)
	if err != nil {
		if isTimeout(err) {
			return Result{}, wrapError(ErrTimeout, desc.Kind, err, "script timed out")
		}
		// The session stays usable; only this action fails.
		return Result{}, wrapError(ErrScriptExecution, desc.Kind, err, "script threw")
	}

	payload, merr := json.Marshal(res.Value.Val())
	if merr != nil {
		payload = []byte(fmt.Sprintf("%v", res.Value.Val()))
	}
	return Result{Text: string(payload)}, nil
}

func (d *Dispatcher) doZoom(ctx context.Context, page *rod.Page, desc Descriptor) (Result, *Error) {
	rect := d.mapper.ToRealRect(
		scale.Point{X: desc.Region[0], Y: desc.Region[1]},
		scale.Point{X: desc.Region[2], Y: desc.Region[3]},
	)
	clip := &proto.PageViewport{
		X:      float64(rect.X),
		Y:      float64(rect.Y),
		Width:  float64(rect.Width),
		Height: float64(rect.Height),
		Scale:  1,
	}
	return d.observeClip(ctx, page, desc, Result{}, clip)
}

func (d *Dispatcher) doWait(ctx context.Context, desc Descriptor) (Result, *Error) {
	d.setState(StateMutating)

	waitCtx, cancel := context.WithCancel(ctx)
	d.waitMu.Lock()
	d.waitCancel = cancel
	d.waitMu.Unlock()
	defer func() {
		d.waitMu.Lock()
		d.waitCancel = nil
		d.waitMu.Unlock()
		cancel()
	}()

	duration := time.Duration(desc.Duration * float64(time.Second))
	if err := sleepWithContext(waitCtx, duration); err != nil {
		return Result{Text: "Wait cancelled"}, nil
	}
	return Result{Text: fmt.Sprintf("Waited %gs", desc.Duration)}, nil
}

// ---------------------------------------------------------------------------
// Observation

// visualKinds capture a screenshot after actuation; everything else
// returns its textual payload.
var visualKinds = map[Kind]bool{
	KindNavigate:      true,
	KindScreenshot:    true,
	KindLeftClick:     true,
	KindRightClick:    true,
	KindMiddleClick:   true,
	KindDoubleClick:   true,
	KindTripleClick:   true,
	KindHover:         true,
	KindLeftClickDrag: true,
	KindLeftMouseDown: true,
	KindLeftMouseUp:   true,
	KindScroll:        true,
	KindScrollTo:      true,
	KindType:          true,
	KindKey:           true,
	KindHoldKey:       true,
	KindFormInput:     true,
	KindZoom:          true,
}

func (d *Dispatcher) observe(ctx context.Context, page *rod.Page, desc Descriptor, res Result) (Result, *Error) {
	return d.observeClip(ctx, page, desc, res, nil)
}

func (d *Dispatcher) observeClip(ctx context.Context, page *rod.Page, desc Descriptor, res Result, clip *proto.PageViewport) (Result, *Error) {
	if !visualKinds[desc.Kind] {
		return res, nil
	}

	d.setState(StateObserving)

	// Let rendering settle before the capture. Screenshot and zoom read
	// current state and skip the delay.
	if desc.Kind != KindScreenshot && desc.Kind != KindZoom {
		if err := sleepWithContext(ctx, d.browserCfg.SettleDelay()); err != nil {
			return res, wrapError(ErrTimeout, desc.Kind, err, "stabilization interrupted")
		}
	}

	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if clip != nil {
		req.Clip = clip
	}
	shot, err := page.Context(ctx).Timeout(d.browserCfg.ActionTimeout()).Screenshot(false, req)
	if err != nil {
		// The action itself succeeded; a failed capture is logged but does
		// not turn the result into a failure.
		log.Printf("warning: post-action screenshot failed: %v", err)
		return res, nil
	}
	res.Screenshot = shot
	return res, nil
}

// ---------------------------------------------------------------------------
// Helpers

// interactablePoint scrolls an element into view and returns its
// interaction point, reporting cover/animation states as retryable.
func (d *Dispatcher) interactablePoint(el *rod.Element) (*proto.Point, error) {
	if err := el.ScrollIntoView(); err != nil {
		return nil, err
	}
	visible, err := el.Visible()
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, fmt.Errorf("element is not interactable: not visible")
	}
	return el.Interactable()
}

// withRetry runs an actuation with bounded retries and increasing backoff
// for transient interactability failures.
func (d *Dispatcher) withRetry(ctx context.Context, act func() error) error {
	var lastErr error
	for attempt := 0; attempt < interactRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBaseDelay * time.Duration(1<<(attempt-1))
			if err := sleepWithContext(ctx, backoff); err != nil {
				return err
			}
		}
		lastErr = act()
		if lastErr == nil {
			return nil
		}
		if !isInteractabilityError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// classifyActuation maps raw browser errors to the engine's error kinds.
func (d *Dispatcher) classifyActuation(desc Descriptor, err error) *Error {
	switch {
	case errors.Is(err, browser.ErrSessionLost):
		return wrapError(ErrSessionLost, desc.Kind, err, "session lost")
	case errors.Is(err, context.Canceled):
		return wrapError(ErrTimeout, desc.Kind, err, "action cancelled")
	case isTimeout(err):
		return wrapError(ErrTimeout, desc.Kind, err, "action timed out")
	case isInteractabilityError(err):
		return wrapError(ErrNotInteractable, desc.Kind, err, "element not interactable after retries")
	default:
		return wrapError(ErrScriptExecution, desc.Kind, err, "browser actuation failed")
	}
}

// isInteractabilityError recognizes rod's covered/invisible element states.
func isInteractabilityError(err error) bool {
	if err == nil {
		return false
	}
	var covered *rod.CoveredError
	var invisible *rod.InvisibleShapeError
	var notInteractable *rod.NotInteractableError
	if errors.As(err, &covered) || errors.As(err, &invisible) || errors.As(err, &notInteractable) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "not interactable") || strings.Contains(msg, "covered")
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		(err != nil && strings.Contains(err.Error(), "context deadline exceeded"))
}

// asEngineError normalizes any error into a typed engine error.
func asEngineError(kind Kind, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return wrapError(ErrValidation, kind, err, "invalid action")
}

// sleepWithContext sleeps for d or until the context ends.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
