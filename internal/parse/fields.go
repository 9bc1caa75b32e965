package parse

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/eatd/vl-desktop-agent/internal/action"
)

var kindAliases = map[string]action.Kind{
	"left_click":  action.KindClick,
	"doubleclick": action.KindDoubleClick,
	"rightclick":  action.KindRightClick,
	"mousedown":   action.KindMouseDown,
	"mouseup":     action.KindMouseUp,
	"left_drag":   action.KindDrag,
	"type_text":   action.KindType,
	"paste_text":  action.KindPaste,
	"press":       action.KindHotkey,
	"key":         action.KindHotkey,
	"keypress":    action.KindHotkey,
	"finish":      action.KindDone,
	"complete":    action.KindDone,
}

// resolveKind maps a model-supplied tag to a known kind. Unknown tags are
// never coerced.
func resolveKind(tag string) (action.Kind, bool) {
	t := strings.ToLower(strings.TrimSpace(tag))
	t = strings.NewReplacer("-", "_", " ", "_").Replace(t)
	if action.Known(action.Kind(t)) {
		return action.Kind(t), true
	}
	k, ok := kindAliases[t]
	return k, ok
}

// flattenNested lifts {"action": {"type": "click", ...}} to the top level.
func flattenNested(obj map[string]any) bool {
	nested, ok := obj["action"].(map[string]any)
	if !ok {
		return false
	}
	delete(obj, "action")
	for k, v := range nested {
		if _, exists := obj[k]; !exists {
			obj[k] = v
		}
	}
	for _, key := range []string{"type", "action", "name"} {
		if tag, ok := nested[key].(string); ok {
			obj["action"] = tag
			break
		}
	}
	return true
}

func first(obj map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "%"), 64)
		return f, err == nil
	}
	return 0, false
}

func numberAt(obj map[string]any, keys ...string) (float64, bool) {
	v, ok := first(obj, keys...)
	if !ok {
		return 0, false
	}
	return number(v)
}

func str(obj map[string]any, keys ...string) string {
	v, ok := first(obj, keys...)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return ""
}

// pair reads an [x, y] array.
func pair(obj map[string]any, keys ...string) (x, y float64, ok bool) {
	v, found := first(obj, keys...)
	if !found {
		return 0, 0, false
	}
	arr, isArr := v.([]any)
	if !isArr || len(arr) < 2 {
		return 0, 0, false
	}
	x, okX := number(arr[0])
	y, okY := number(arr[1])
	return x, y, okX && okY
}

type coord struct {
	x, y       float64
	hasX, hasY bool
}

func (c coord) complete() bool { return c.hasX && c.hasY }
func (c coord) empty() bool    { return !c.hasX && !c.hasY }

func (c coord) point() *action.Point {
	return &action.Point{X: int(math.Round(c.x)), Y: int(math.Round(c.y))}
}

func readCoord(obj map[string]any, xKeys, yKeys, pairKeys []string) coord {
	if x, y, ok := pair(obj, pairKeys...); ok {
		return coord{x: x, y: y, hasX: true, hasY: true}
	}
	var c coord
	c.x, c.hasX = numberAt(obj, xKeys...)
	c.y, c.hasY = numberAt(obj, yKeys...)
	return c
}

var (
	startX    = []string{"x", "norm_x", "start_x", "x1"}
	startY    = []string{"y", "norm_y", "start_y", "y1"}
	startPair = []string{"coordinate", "coordinates", "point", "start", "start_coordinate"}
	endX      = []string{"end_x", "to_x", "x2"}
	endY      = []string{"end_y", "to_y", "y2"}
	endPair   = []string{"end_coordinate", "end", "to"}
)

// defaultScrollAmount is used when only a direction is given.
const defaultScrollAmount = 3

func (p *Parser) normalize(obj map[string]any, src string) (action.Fields, error) {
	tag := str(obj, "action", "action_type", "type", "name")
	if tag == "" {
		return action.Fields{}, ErrNoAction
	}
	kind, ok := resolveKind(tag)
	if !ok {
		return action.Fields{}, fmt.Errorf("%w %q", ErrUnknownKind, tag)
	}

	f := action.Fields{Kind: kind}
	f.Rationale = str(obj, "reasoning", "reason", "rationale", "thought", "explanation")
	f.Confidence = confidence(obj)

	switch {
	case kind == action.KindDrag:
		from := readCoord(obj, startX, startY, startPair)
		to := readCoord(obj, endX, endY, endPair)
		if !from.complete() || !to.complete() {
			return f, fmt.Errorf("%w: drag needs both endpoints", ErrAmbiguous)
		}
		f.At, f.To = from.point(), to.point()

	case action.SinglePoint(kind):
		c := readCoord(obj, startX, startY, startPair)
		if !c.complete() && (action.IsPointer(kind) || !c.empty()) {
			filled, ok := fillCoordinate(c, obj, src)
			if !ok {
				return f, fmt.Errorf("%w: %s needs x and y", action.ErrMissingField, kind)
			}
			p.repaired("fill_coordinate", "kind", kind)
			c = filled
		}
		if c.complete() {
			f.At = c.point()
		}
	}

	switch kind {
	case action.KindType, action.KindPaste:
		f.Text = str(obj, "text", "text_content", "content", "value", "string")
	case action.KindHotkey:
		f.Keys = keys(obj)
	case action.KindScroll:
		if n, ok := scrollAmount(obj); ok {
			f.Amount = &n
		}
	case action.KindWait:
		f.WaitMS = waitMS(obj)
	}
	return f, nil
}

// confidence reads a self-reported confidence in [0,1]. Values in (1,100]
// are read as percentages. A missing value is recorded as 0.
func confidence(obj map[string]any) float64 {
	c, ok := numberAt(obj, "confidence", "conf", "certainty")
	if !ok || math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		if c > 100 {
			return 1
		}
		c /= 100
	}
	return c
}

func keys(obj map[string]any) []string {
	v, ok := first(obj, "keys", "key", "key_combination", "hotkey", "combo", "text")
	if !ok {
		return nil
	}
	var out []string
	add := func(s string) {
		for _, k := range strings.FieldsFunc(s, func(r rune) bool { return r == '+' || r == ' ' || r == ',' }) {
			out = append(out, strings.TrimSpace(k))
		}
	}
	switch k := v.(type) {
	case string:
		add(k)
	case []any:
		for _, item := range k {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	}
	return out
}

func scrollAmount(obj map[string]any) (int, bool) {
	n, hasAmount := numberAt(obj, "amount", "scroll_amount", "clicks", "delta")
	dir := strings.ToLower(str(obj, "direction", "scroll_direction"))
	switch dir {
	case "up":
		if !hasAmount {
			n = defaultScrollAmount
		}
		return int(math.Abs(math.Round(n))), true
	case "down":
		if !hasAmount {
			n = defaultScrollAmount
		}
		return -int(math.Abs(math.Round(n))), true
	}
	return int(math.Round(n)), hasAmount
}

func waitMS(obj map[string]any) int64 {
	if ms, ok := numberAt(obj, "ms", "wait_ms", "milliseconds"); ok && ms > 0 {
		return int64(ms)
	}
	if s, ok := numberAt(obj, "seconds", "duration", "time", "wait"); ok && s > 0 {
		return int64(s * 1000)
	}
	return 0
}

func assignPositional(obj map[string]any, kind action.Kind, args []any) {
	var nums []float64
	var strs []string
	for _, a := range args {
		switch v := a.(type) {
		case float64:
			nums = append(nums, v)
		case string:
			strs = append(strs, v)
		case []any:
			for _, it := range v {
				if s, ok := it.(string); ok {
					strs = append(strs, s)
				} else if n, ok := it.(float64); ok {
					nums = append(nums, n)
				}
			}
		}
	}

	setNums := func(names ...string) {
		for i, name := range names {
			if i < len(nums) {
				if _, exists := obj[name]; !exists {
					obj[name] = nums[i]
				}
			}
		}
	}

	switch {
	case kind == action.KindDrag:
		setNums("x", "y", "end_x", "end_y")
	case action.SinglePoint(kind):
		setNums("x", "y")
	case kind == action.KindScroll:
		setNums("amount")
	case kind == action.KindWait:
		setNums("seconds")
	}

	switch kind {
	case action.KindType, action.KindPaste:
		if len(strs) > 0 {
			if _, exists := obj["text"]; !exists {
				obj["text"] = strs[0]
			}
		}
	case action.KindHotkey:
		if len(strs) > 0 {
			if _, exists := obj["keys"]; !exists {
				ks := make([]any, len(strs))
				for i, s := range strs {
					ks[i] = s
				}
				obj["keys"] = ks
			}
		}
	case action.KindScroll:
		if len(strs) > 0 {
			obj["direction"] = strs[0]
		}
	}
}

var numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// fillCoordinate completes a single-point coordinate from the numeric
// literals of src that no other field claims. Only one axis is ever filled:
// the missing axis takes the unclaimed literal nearest to the present one.
// A point with neither axis is never reconstructed from prose.
func fillCoordinate(c coord, obj map[string]any, src string) (coord, bool) {
	if c.empty() || c.complete() {
		return c, c.complete()
	}
	type lit struct {
		v   float64
		pos int
	}
	var lits []lit
	for _, loc := range numberRe.FindAllStringIndex(src, -1) {
		v, err := strconv.ParseFloat(src[loc[0]:loc[1]], 64)
		if err == nil {
			lits = append(lits, lit{v, loc[0]})
		}
	}

	claimed := map[float64]int{}
	for _, k := range []string{"confidence", "conf", "certainty", "amount", "seconds", "ms"} {
		if n, ok := numberAt(obj, k); ok {
			claimed[n]++
		}
	}
	anchor := -1
	present := c.y
	if c.hasX {
		present = c.x
	}

	var free []lit
	for _, l := range lits {
		if l.v == present && anchor < 0 {
			anchor = l.pos
			continue
		}
		if claimed[l.v] > 0 {
			claimed[l.v]--
			continue
		}
		if l.v < 0 {
			continue
		}
		free = append(free, l)
	}

	if len(free) == 0 {
		return c, false
	}

	best := free[0]
	if anchor >= 0 {
		for _, l := range free[1:] {
			if abs(l.pos-anchor) < abs(best.pos-anchor) {
				best = l
			}
		}
	}
	if c.hasX {
		c.y, c.hasY = best.v, true
	} else {
		c.x, c.hasX = best.v, true
	}
	return c, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
