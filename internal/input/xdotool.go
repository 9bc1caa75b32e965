package input

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/eatd/vl-desktop-agent/internal/action"
)

// XDoTool drives X11 input through the xdotool binary. Paste goes through
// xclip so the clipboard holds the text.
type XDoTool struct {
	Bin     string
	ClipBin string
	// TypeDelayMS is the per-keystroke delay passed to xdotool type.
	TypeDelayMS int
}

func NewXDoTool() *XDoTool {
	return &XDoTool{Bin: "xdotool", ClipBin: "xclip", TypeDelayMS: 12}
}

func (x *XDoTool) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, x.Bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("xdotool %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func coords(p action.Point) []string {
	return []string{strconv.Itoa(p.X), strconv.Itoa(p.Y)}
}

func (x *XDoTool) at(ctx context.Context, p action.Point, then ...string) error {
	args := append([]string{"mousemove", "--sync"}, coords(p)...)
	return x.run(ctx, append(args, then...)...)
}

func (x *XDoTool) Click(ctx context.Context, p action.Point) error {
	return x.at(ctx, p, "click", "1")
}

func (x *XDoTool) DoubleClick(ctx context.Context, p action.Point) error {
	return x.at(ctx, p, "click", "--repeat", "2", "--delay", "80", "1")
}

func (x *XDoTool) RightClick(ctx context.Context, p action.Point) error {
	return x.at(ctx, p, "click", "3")
}

func (x *XDoTool) MouseDown(ctx context.Context, p action.Point) error {
	return x.at(ctx, p, "mousedown", "1")
}

func (x *XDoTool) MouseUp(ctx context.Context, p action.Point) error {
	return x.at(ctx, p, "mouseup", "1")
}

func (x *XDoTool) Drag(ctx context.Context, from, to action.Point) error {
	if err := x.MouseDown(ctx, from); err != nil {
		return err
	}
	args := append([]string{"mousemove", "--sync"}, coords(to)...)
	if err := x.run(ctx, append(args, "mouseup", "1")...); err != nil {
		// Never leave the button held.
		_ = x.run(context.WithoutCancel(ctx), "mouseup", "1")
		return err
	}
	return nil
}

func (x *XDoTool) TypeText(ctx context.Context, text string) error {
	return x.run(ctx, "type", "--delay", strconv.Itoa(x.TypeDelayMS), "--", text)
}

func (x *XDoTool) PasteText(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, x.ClipBin, "-selection", "clipboard")
	cmd.Stdin = strings.NewReader(text)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("set clipboard: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return x.run(ctx, "key", "--clearmodifiers", "ctrl+v")
}

func (x *XDoTool) Scroll(ctx context.Context, amount int) error {
	if amount == 0 {
		return nil
	}
	button := "4"
	if amount < 0 {
		button, amount = "5", -amount
	}
	return x.run(ctx, "click", "--repeat", strconv.Itoa(amount), button)
}

func (x *XDoTool) Hotkey(ctx context.Context, keys []string) error {
	return x.run(ctx, "key", "--clearmodifiers", KeySym(keys))
}

var xKeys = map[string]string{
	"ctrl":      "ctrl",
	"control":   "ctrl",
	"alt":       "alt",
	"shift":     "shift",
	"win":       "super",
	"cmd":       "super",
	"super":     "super",
	"meta":      "super",
	"enter":     "Return",
	"return":    "Return",
	"esc":       "Escape",
	"escape":    "Escape",
	"tab":       "Tab",
	"space":     "space",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"del":       "Delete",
	"home":      "Home",
	"end":       "End",
	"pageup":    "Prior",
	"pagedown":  "Next",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"insert":    "Insert",
}

// KeySym renders a key combination in xdotool syntax, e.g. ctrl+Return.
func KeySym(keys []string) string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		l := strings.ToLower(strings.TrimSpace(k))
		switch {
		case xKeys[l] != "":
			out = append(out, xKeys[l])
		case len(l) >= 2 && l[0] == 'f' && isDigits(l[1:]):
			out = append(out, "F"+l[1:])
		default:
			out = append(out, l)
		}
	}
	return strings.Join(out, "+")
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
