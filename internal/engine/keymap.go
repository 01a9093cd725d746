package engine

import (
	"strings"

	"github.com/go-rod/rod/lib/input"
)

// namedKeys maps the key names agents use to Rod's CDP key definitions.
// Aliases cover the common spellings seen in agent output.
var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"return":     input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"del":        input.Delete,
	"insert":     input.Insert,
	"space":      input.Space,
	"up":         input.ArrowUp,
	"arrowup":    input.ArrowUp,
	"down":       input.ArrowDown,
	"arrowdown":  input.ArrowDown,
	"left":       input.ArrowLeft,
	"arrowleft":  input.ArrowLeft,
	"right":      input.ArrowRight,
	"arrowright": input.ArrowRight,
	"pageup":     input.PageUp,
	"page_up":    input.PageUp,
	"pagedown":   input.PageDown,
	"page_down":  input.PageDown,
	"home":       input.Home,
	"end":        input.End,
	"shift":      input.ShiftLeft,
	"ctrl":       input.ControlLeft,
	"control":    input.ControlLeft,
	"alt":        input.AltLeft,
	"option":     input.AltLeft,
	"meta":       input.MetaLeft,
	"cmd":        input.MetaLeft,
	"command":    input.MetaLeft,
	"super":      input.MetaLeft,
	"win":        input.MetaLeft,
	"f1":         input.F1,
	"f2":         input.F2,
	"f3":         input.F3,
	"f4":         input.F4,
	"f5":         input.F5,
	"f6":         input.F6,
	"f7":         input.F7,
	"f8":         input.F8,
	"f9":         input.F9,
	"f10":        input.F10,
	"f11":        input.F11,
	"f12":        input.F12,
}

// modifierKeys is the subset held down around the rest of a combo.
var modifierKeys = map[input.Key]bool{
	input.ShiftLeft:   true,
	input.ControlLeft: true,
	input.AltLeft:     true,
	input.MetaLeft:    true,
}

// ParseKeySequence converts a combo like "ctrl+shift+t" or a single key
// like "Enter" into the ordered key presses to perform. Single printable
// characters pass through as themselves.
func ParseKeySequence(combo string) ([]input.Key, error) {
	trimmed := strings.TrimSpace(combo)
	if trimmed == "" {
		return nil, newError(ErrValidation, KindKey, "empty key sequence")
	}
	// A literal plus is a key, not a separator.
	if trimmed == "+" {
		return []input.Key{input.Key('+')}, nil
	}

	parts := strings.Split(trimmed, "+")
	keys := make([]input.Key, 0, len(parts))
	for _, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			return nil, newError(ErrValidation, KindKey, "malformed key sequence %q", combo)
		}
		if k, ok := namedKeys[strings.ToLower(name)]; ok {
			keys = append(keys, k)
			continue
		}
		runes := []rune(name)
		if len(runes) == 1 {
			keys = append(keys, input.Key(runes[0]))
			continue
		}
		return nil, newError(ErrValidation, KindKey, "unknown key %q in sequence %q", name, combo)
	}
	return keys, nil
}

// IsModifier reports whether a key is held rather than tapped in a combo.
func IsModifier(k input.Key) bool {
	return modifierKeys[k]
}

// SplitModifiers partitions a parsed sequence into held modifiers and the
// keys tapped while they are down. A sequence of only modifiers taps its
// final key.
func SplitModifiers(keys []input.Key) (held []input.Key, tapped []input.Key) {
	for _, k := range keys {
		if IsModifier(k) {
			held = append(held, k)
		} else {
			tapped = append(tapped, k)
		}
	}
	if len(tapped) == 0 && len(held) > 0 {
		tapped = held[len(held)-1:]
		held = held[:len(held)-1]
	}
	return held, tapped
}
