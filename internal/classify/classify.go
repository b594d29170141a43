// Package classify decides what the tail of a session's output buffer
// represents: output still arriving, a completed response, or an interactive
// prompt that needs a caller decision.
package classify

import (
	"regexp"
	"strings"
	"time"
)

// Decision is the outcome of classifying a buffer.
type Decision int

const (
	// Continue means keep reading: no terminal marker yet and the quiet
	// period has not elapsed.
	Continue Decision = iota
	// Complete means the buffer holds a finished response.
	Complete
	// Blocked means the tail is an interactive prompt requiring a reply.
	Blocked
	// AutoHandled means the tail is an approval prompt the session should
	// answer affirmatively itself instead of surfacing it.
	AutoHandled
)

func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case Complete:
		return "complete"
	case Blocked:
		return "blocked"
	case AutoHandled:
		return "auto_handled"
	}
	return "unknown"
}

// Result carries the decision and, for Blocked, the verbatim prompt text.
type Result struct {
	Decision Decision
	Prompt   string
}

// tailLines is how many trailing lines are inspected for prompt patterns.
const tailLines = 5

// Unambiguous interactive prompt signatures.
var strongPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\(y/n\)`),
	regexp.MustCompile(`\[y/n\]`),
	regexp.MustCompile(`\(yes/no\)`),
	regexp.MustCompile(`\[yes/no\]`),
	regexp.MustCompile(`select an option`),
	regexp.MustCompile(`enter your choice`),
	regexp.MustCompile(`\[\d+\]`),
	regexp.MustCompile(`\(default: .*\)`),
	regexp.MustCompile(`press enter to continue`),
	regexp.MustCompile(`type your response`),
	regexp.MustCompile(`authentication required`),
	regexp.MustCompile(`allow execution`),
}

// Weak confirmation words only count on a trailing question line; on their
// own they appear in ordinary prose far too often.
var weakWords = []string{"confirm", "proceed", "continue", "allow"}

// Approval prompts that auto-approval may answer. Authentication and
// destructive confirmations are deliberately absent.
var approvalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`allow execution`),
	regexp.MustCompile(`\(y/n\)`),
	regexp.MustCompile(`\[y/n\]`),
	regexp.MustCompile(`\(yes/no\)`),
	regexp.MustCompile(`\[yes/no\]`),
}

var neverAutoPattern = regexp.MustCompile(`authentication required|press enter to continue`)

var destructiveWords = []string{"delete", "remove", "overwrite", "irreversible"}

// Classifier applies the prompt heuristics with a configurable quiet period.
type Classifier struct {
	quietPeriod time.Duration
}

// New returns a Classifier that treats idle stretches of at least quiet as a
// completed response.
func New(quiet time.Duration) *Classifier {
	return &Classifier{quietPeriod: quiet}
}

// QuietPeriod reports the configured silence window.
func (c *Classifier) QuietPeriod() time.Duration {
	return c.quietPeriod
}

// Classify inspects the buffer's tail. idle is the time since output last
// arrived; autoApprove narrows approval prompts from Blocked to AutoHandled.
// Classification is best-effort and never fails.
func (c *Classifier) Classify(buffer string, idle time.Duration, autoApprove bool) Result {
	tail := lastLines(buffer, tailLines)
	low := strings.ToLower(tail)

	if isInteractive(low) {
		if autoApprove && isAutoApprovable(low) {
			return Result{Decision: AutoHandled}
		}
		return Result{Decision: Blocked, Prompt: strings.TrimSpace(tail)}
	}

	if idle >= c.quietPeriod && strings.TrimSpace(buffer) != "" {
		return Result{Decision: Complete}
	}

	return Result{Decision: Continue}
}

func isInteractive(low string) bool {
	for _, p := range strongPatterns {
		if p.MatchString(low) {
			return true
		}
	}

	last := lastNonEmptyLine(low)
	if strings.HasSuffix(strings.TrimSpace(last), "?") {
		for _, w := range weakWords {
			if strings.Contains(last, w) {
				return true
			}
		}
	}
	return false
}

func isAutoApprovable(low string) bool {
	if neverAutoPattern.MatchString(low) {
		return false
	}
	for _, w := range destructiveWords {
		if strings.Contains(low, w) {
			return false
		}
	}
	for _, p := range approvalPatterns {
		if p.MatchString(low) {
			return true
		}
	}
	return false
}

func lastLines(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func lastNonEmptyLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}
