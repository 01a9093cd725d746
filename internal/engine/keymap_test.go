package engine

import (
	"testing"

	"github.com/go-rod/rod/lib/input"
)

func TestParseKeySequenceSingleKeys(t *testing.T) {
	tests := []struct {
		in   string
		want input.Key
	}{
		{"Enter", input.Enter},
		{"enter", input.Enter},
		{"Return", input.Enter},
		{"Tab", input.Tab},
		{"Escape", input.Escape},
		{"esc", input.Escape},
		{"Backspace", input.Backspace},
		{"Delete", input.Delete},
		{"Page_Down", input.PageDown},
		{"ArrowLeft", input.ArrowLeft},
		{"F5", input.F5},
		{"a", input.Key('a')},
		{"+", input.Key('+')},
	}

	for _, tt := range tests {
		keys, err := ParseKeySequence(tt.in)
		if err != nil {
			t.Errorf("ParseKeySequence(%q): %v", tt.in, err)
			continue
		}
		if len(keys) != 1 || keys[0] != tt.want {
			t.Errorf("ParseKeySequence(%q) = %v, want [%v]", tt.in, keys, tt.want)
		}
	}
}

func TestParseKeySequenceCombos(t *testing.T) {
	keys, err := ParseKeySequence("ctrl+shift+t")
	if err != nil {
		t.Fatalf("ParseKeySequence: %v", err)
	}
	want := []input.Key{input.ControlLeft, input.ShiftLeft, input.Key('t')}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("key[%d] = %v, want %v", i, keys[i], want[i])
		}
	}
}

func TestParseKeySequenceErrors(t *testing.T) {
	for _, in := range []string{"", "ctrl+", "ctrl+bogus", "+a"} {
		if _, err := ParseKeySequence(in); err == nil {
			t.Errorf("ParseKeySequence(%q) should fail", in)
		}
	}
}

func TestSplitModifiers(t *testing.T) {
	t.Run("combo", func(t *testing.T) {
		keys, _ := ParseKeySequence("ctrl+a")
		held, tapped := SplitModifiers(keys)
		if len(held) != 1 || held[0] != input.ControlLeft {
			t.Errorf("held = %v", held)
		}
		if len(tapped) != 1 || tapped[0] != input.Key('a') {
			t.Errorf("tapped = %v", tapped)
		}
	})

	t.Run("modifier only", func(t *testing.T) {
		keys, _ := ParseKeySequence("shift")
		held, tapped := SplitModifiers(keys)
		if len(held) != 0 {
			t.Errorf("held = %v, want none", held)
		}
		if len(tapped) != 1 || tapped[0] != input.ShiftLeft {
			t.Errorf("tapped = %v, want shift itself", tapped)
		}
	})

	t.Run("plain key", func(t *testing.T) {
		keys, _ := ParseKeySequence("Enter")
		held, tapped := SplitModifiers(keys)
		if len(held) != 0 || len(tapped) != 1 || tapped[0] != input.Enter {
			t.Errorf("held = %v tapped = %v", held, tapped)
		}
	})
}

func TestIsModifier(t *testing.T) {
	if !IsModifier(input.ControlLeft) || !IsModifier(input.ShiftLeft) {
		t.Error("control and shift are modifiers")
	}
	if IsModifier(input.Enter) || IsModifier(input.Key('x')) {
		t.Error("enter and printable keys are not modifiers")
	}
}
