// Package normalize reduces raw terminal output captured from a wrapped
// interactive CLI to its substantive text content. The transform is
// best-effort and idempotent: normalizing already-normalized text yields
// the same text.
package normalize

import (
	"regexp"
	"strings"
)

var (
	// CSI sequences: cursor movement, colors, erase commands.
	csiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	// OSC sequences: window title updates and similar, terminated by BEL or ST.
	oscPattern = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
	// Remaining two-character escapes (DECSC, keypad modes, Fe set) and
	// stray ESC bytes.
	escPattern = regexp.MustCompile(`\x1b[@-_=<>78]?`)

	contextFooter = regexp.MustCompile(`(?i)\d+%\s*context\s*left`)
)

// promptMarkers are input-line markers the wrapped CLI renders on otherwise
// empty lines while waiting for input.
var promptMarkers = map[string]bool{
	">": true,
	"❯": true,
	"›": true,
	"✦": true,
}

// Normalize strips terminal control sequences, decorative glyphs and
// interface chrome from raw output. It never fails; unrecognized input
// passes through untouched.
func Normalize(raw string) string {
	text := stripControl(raw)
	text = stripGlyphs(text)

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = trimMarker(strings.TrimRight(line, " \t"))
		if isChrome(line) {
			continue
		}
		if strings.TrimSpace(line) == "" {
			// Collapse runs of blank lines to a single one.
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}

	// Drop a trailing blank line left by the collapse pass.
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}

	return strings.Join(out, "\n")
}

// TrimEcho removes a leading echo of the text that was just written to the
// CLI, which PTY-backed sessions reflect back before the response.
func TrimEcho(text, sent string) string {
	sent = strings.TrimSpace(sent)
	if sent == "" {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && strings.TrimSpace(trimMarker(lines[0])) == sent {
		return strings.TrimLeft(strings.Join(lines[1:], "\n"), "\n")
	}
	return text
}

func stripControl(text string) string {
	text = oscPattern.ReplaceAllString(text, "")
	text = csiPattern.ReplaceAllString(text, "")
	text = escPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r", "")
	text = strings.ReplaceAll(text, "\x07", "")
	return text
}

// stripGlyphs removes box-drawing, block/progress-bar and braille spinner
// ranges. Substantive unicode content is untouched.
func stripGlyphs(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 0x2500 && r <= 0x257F: // box drawing
			return -1
		case r >= 0x2580 && r <= 0x259F: // block elements
			return -1
		case r >= 0x2800 && r <= 0x28FF: // braille (spinners)
			return -1
		}
		return r
	}, text)
}

func isChrome(line string) bool {
	trimmed := strings.TrimSpace(line)
	if promptMarkers[trimmed] {
		return true
	}
	if contextFooter.MatchString(trimmed) {
		return true
	}
	// Status bars: working directory plus sandbox/model blurb.
	if strings.Contains(trimmed, "no sandbox") || strings.Contains(trimmed, "(see /docs)") {
		return true
	}
	return false
}

func trimMarker(line string) string {
	for {
		trimmed := strings.TrimLeft(line, " \t")
		matched := false
		for marker := range promptMarkers {
			if strings.HasPrefix(trimmed, marker+" ") {
				line = strings.TrimPrefix(trimmed, marker+" ")
				matched = true
				break
			}
		}
		if !matched {
			return line
		}
	}
}
