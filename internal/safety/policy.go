// Package safety decides whether a proposed action may reach the OS.
package safety

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Policy is the replaceable data the validator enforces.
type Policy struct {
	BlockedHotkeys       []string `json:"blocked_hotkeys"`
	BlockedPatterns      []string `json:"blocked_patterns"`
	EdgeMargin           int      `json:"edge_margin"`
	MinConfidence        float64  `json:"min_confidence"`
	RequireDoneRationale bool     `json:"require_done_rationale"`
	MaxTextLength        int      `json:"max_text_length"`
}

func DefaultPolicy() Policy {
	return Policy{
		BlockedHotkeys: []string{
			"alt+f4",
			"ctrl+alt+delete",
			"win+r",
			"win+l",
			"ctrl+shift+escape",
		},
		BlockedPatterns: []string{
			`\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r|-r\s+-f|-f\s+-r|--recursive\s+--force)`,
			`\bmkfs(\.\w+)?\b`,
			`\bformat\s+[a-z]:`,
			`\bdel\s+(/[a-z]\s+)*/[sfq]\b`,
			`\bdd\s+.*\bof=/dev/`,
			`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`,
			`\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?(ba|z|da)?sh\b`,
			`\bbase64\s+(-d|--decode)\b[^|]*\|\s*(ba|z)?sh\b`,
			`(\$\(|` + "`" + `)[^)` + "`" + `]*\b(base64\s+(-d|--decode)|xxd\s+(-r|-revert)|openssl\s+(enc\s+)?(-d|base64\s+-d))\b`,
			`\beval\b.*\b(base64|xxd|openssl)\b`,
			`\b(pwsh|powershell)(\.exe)?\b.*\s-(e|ec|en|enc|enco|encodedcommand)\b`,
			`\bfrombase64string\b`,
			`(^|[;|&("'{]\s*)(iex|invoke-expression)\b`,
			`\b(pwsh|powershell)(\.exe)?\b.*\b(iex|invoke-expression)\b`,
			`\bdiskpart\b`,
			`\bremove-item\b.*-recurse.*-force`,
			`\bshutdown(\.exe)?\s+(/[srp]|-[hrP]|now)`,
		},
		EdgeMargin:    8,
		MaxTextLength: 2000,
	}
}

var keyAliases = map[string]string{
	"control":  "ctrl",
	"ctl":      "ctrl",
	"cmd":      "win",
	"command":  "win",
	"super":    "win",
	"meta":     "win",
	"windows":  "win",
	"os":       "win",
	"option":   "alt",
	"esc":      "escape",
	"del":      "delete",
	"return":   "enter",
	"pgup":     "pageup",
	"pgdn":     "pagedown",
	"ins":      "insert",
	"altgr":    "alt",
	"lctrl":    "ctrl",
	"rctrl":    "ctrl",
	"lalt":     "alt",
	"ralt":     "alt",
	"lshift":   "shift",
	"rshift":   "shift",
	"left_win": "win",
}

// NormalizeKey lowercases a key name and folds platform aliases.
func NormalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	if a, ok := keyAliases[k]; ok {
		return a
	}
	return k
}

// NormalizeCombo returns the order- and case-insensitive form of a key
// combination, e.g. ["Delete", "Control", "ALT"] -> "alt+ctrl+delete".
// Entries may themselves be joined with "+" or "-".
func NormalizeCombo(keys []string) string {
	return strings.Join(comboKeys(keys), "+")
}

// comboKeys is the sorted, de-duplicated key set behind NormalizeCombo.
func comboKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	norm := make([]string, 0, len(keys))
	for _, raw := range keys {
		for _, part := range splitCombo(raw) {
			k := NormalizeKey(part)
			if k == "" {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			norm = append(norm, k)
		}
	}
	sort.Strings(norm)
	return norm
}

func isSep(r rune) bool { return r == '+' || r == '-' }

// splitCombo splits "ctrl-alt-delete" or "ctrl+shift+t". A lone separator
// is the key itself, as is a separator that follows another ("ctrl+-").
func splitCombo(raw string) []string {
	raw = strings.TrimSpace(raw)
	if len(raw) <= 1 {
		return []string{raw}
	}
	parts := strings.FieldsFunc(raw, isSep)
	if n := len(raw); isSep(rune(raw[n-1])) && isSep(rune(raw[n-2])) {
		parts = append(parts, raw[n-1:])
	}
	return parts
}

type pattern struct {
	re  *regexp.Regexp
	src string
}

type combo struct {
	keys []string
	orig string
}

type compiled struct {
	hotkeys  []combo
	patterns []pattern
}

// blocked returns the first denylisted combination whose keys all appear in
// pressed, so ctrl+shift+alt+delete is caught by ctrl+alt+delete.
func (c compiled) blocked(pressed []string) (combo, bool) {
	set := make(map[string]struct{}, len(pressed))
	for _, k := range pressed {
		set[k] = struct{}{}
	}
next:
	for _, hk := range c.hotkeys {
		for _, k := range hk.keys {
			if _, ok := set[k]; !ok {
				continue next
			}
		}
		return hk, true
	}
	return combo{}, false
}

func compile(p Policy) (compiled, error) {
	var c compiled
	for _, hk := range p.BlockedHotkeys {
		keys := comboKeys([]string{hk})
		if len(keys) == 0 {
			return c, fmt.Errorf("blocked hotkey %q is empty", hk)
		}
		c.hotkeys = append(c.hotkeys, combo{keys: keys, orig: hk})
	}
	for _, pat := range p.BlockedPatterns {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			return c, fmt.Errorf("compile pattern %q: %w", pat, err)
		}
		c.patterns = append(c.patterns, pattern{re: re, src: pat})
	}
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return c, fmt.Errorf("min_confidence %.2f outside [0,1]", p.MinConfidence)
	}
	return c, nil
}
