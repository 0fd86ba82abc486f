package collectors

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf16"
)

const (
	maxSelectorDepth = 5
	maxSelectorLen   = 128
)

// Node describes one element on the path from a click target up to the
// document body, as reported by the host.
type Node struct {
	Tag     string
	ID      string
	TestID  string
	Role    string
	Name    string
	Classes []string
	// Index is the zero-based position among Siblings element siblings.
	Index    int
	Siblings int
}

var (
	validID       = regexp.MustCompile(`^[a-zA-Z][\w-]*$`)
	longDigits    = regexp.MustCompile(`\d{4,}`)
	hexRun        = regexp.MustCompile(`(?i)[0-9a-f]{8,}`)
	volatileWord  = regexp.MustCompile(`(?i)temp|dynamic|random`)
	cssInJS       = regexp.MustCompile(`^(css|sc|emotion|styled)-`)
	hexClass      = regexp.MustCompile(`(?i)[0-9a-f]{6,}`)
	numericSuffix = regexp.MustCompile(`-\d{4,}$`)
)

func stableID(id string) bool {
	return validID.MatchString(id) && !longDigits.MatchString(id) && !hexRun.MatchString(id) && !volatileWord.MatchString(id)
}

func generatedClass(c string) bool {
	return cssInJS.MatchString(c) || hexClass.MatchString(c) || numericSuffix.MatchString(c)
}

// BuildSelector derives a short CSS selector from path, target first. It
// stops at the first stable id or after five levels.
func BuildSelector(path []Node) string {
	parts := make([]string, 0, maxSelectorDepth)
	for _, n := range path {
		if n.ID != "" && stableID(n.ID) {
			parts = append(parts, "#"+n.ID)
			break
		}
		sel := strings.ToLower(n.Tag)
		switch {
		case n.TestID != "":
			sel += fmt.Sprintf(`[data-testid="%s"]`, n.TestID)
		case n.Role != "":
			sel += fmt.Sprintf(`[role="%s"]`, n.Role)
		case n.Name != "":
			sel += fmt.Sprintf(`[name="%s"]`, n.Name)
		default:
			kept := make([]string, 0, 2)
			for _, c := range n.Classes {
				if c != "" && !generatedClass(c) {
					kept = append(kept, c)
				}
				if len(kept) == 2 {
					break
				}
			}
			if len(kept) > 0 {
				sel += "." + strings.Join(kept, ".")
			}
		}
		if n.Siblings > 1 && n.Index > 0 {
			sel += fmt.Sprintf(":nth-child(%d)", n.Index+1)
		}
		parts = append(parts, sel)
		if len(parts) >= maxSelectorDepth {
			break
		}
	}
	// Built target first, rendered outermost first.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	out := strings.Join(parts, " > ")
	if len(out) > maxSelectorLen {
		out = out[:maxSelectorLen]
	}
	return out
}

// HashSelector is the 31-multiplier string hash over UTF-16 code units in
// 32-bit arithmetic, made non-negative. Collectors and dashboards written
// in other languages compute the same value.
func HashSelector(s string) int64 {
	var h int32
	for _, c := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(c)
	}
	return int64(math.Abs(float64(h)))
}
