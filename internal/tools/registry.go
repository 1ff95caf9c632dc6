// Package tools holds the metered utility operations. Every tool is a pure
// function from an input string to an output string; all of the interesting
// machinery lives in the admission layer that guards them.
package tools

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Tool transforms an input. Implementations must be pure and O(1)-ish; the
// gateway bills per call, not per byte.
type Tool func(input string) (string, error)

// Registry is the immutable tool table, keyed by the same IDs the pricing
// table uses.
type Registry map[string]Tool

// NewRegistry returns the built-in tool set.
func NewRegistry() Registry {
	return Registry{
		"slugify":    Slugify,
		"reverse":    Reverse,
		"hex-to-rgb": HexToRGB,
		"rgb-to-hex": RGBToHex,
	}
}

// Get returns the tool for an ID.
func (r Registry) Get(toolID string) (Tool, bool) {
	tool, ok := r[toolID]
	return tool, ok
}

// Slugify lowercases the input and collapses runs of non-alphanumerics into
// single hyphens.
func Slugify(input string) (string, error) {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(input) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-"), nil
}

// Reverse reverses the input by rune.
func Reverse(input string) (string, error) {
	runes := []rune(input)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes), nil
}

// HexToRGB converts "#rrggbb" (or "rrggbb") to "rgb(r, g, b)".
func HexToRGB(input string) (string, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(input), "#")
	if len(hex) != 6 {
		return "", fmt.Errorf("tools: invalid hex color %q", input)
	}
	var rgb [3]int64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseInt(hex[i*2:i*2+2], 16, 64)
		if err != nil {
			return "", fmt.Errorf("tools: invalid hex color %q", input)
		}
		rgb[i] = v
	}
	return fmt.Sprintf("rgb(%d, %d, %d)", rgb[0], rgb[1], rgb[2]), nil
}

// RGBToHex converts "r,g,b" to "#rrggbb".
func RGBToHex(input string) (string, error) {
	parts := strings.Split(strings.TrimSpace(input), ",")
	if len(parts) != 3 {
		return "", fmt.Errorf("tools: expected r,g,b, got %q", input)
	}
	var rgb [3]int64
	for i, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || v < 0 || v > 255 {
			return "", fmt.Errorf("tools: invalid rgb component %q", part)
		}
		rgb[i] = v
	}
	return fmt.Sprintf("#%02x%02x%02x", rgb[0], rgb[1], rgb[2]), nil
}
