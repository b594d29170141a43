package mockscript

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Script represents a scripted set of responses for the mock CLI.
type Script struct {
	Rules []Rule `json:"rules"`
}

// Rule describes how to respond to an input line that contains Match.
type Rule struct {
	// Match is a case-insensitive substring of the incoming line.
	Match string `json:"match"`
	// Output is printed when the rule fires.
	Output string `json:"output,omitempty"`
	// Prompt, when set, is printed after Output; the mock then waits for
	// the next input line before continuing.
	Prompt string `json:"prompt,omitempty"`
	// ReplyOutput is printed after a prompt is answered.
	ReplyOutput string `json:"reply_output,omitempty"`
	// DelayMs delays the response, simulating model latency.
	DelayMs int `json:"delay_ms,omitempty"`
}

// Load reads a script from the provided path.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	var script Script
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse script JSON: %w", err)
	}

	if len(script.Rules) == 0 {
		return nil, fmt.Errorf("script has no rules defined")
	}
	for i, rule := range script.Rules {
		if rule.Match == "" {
			return nil, fmt.Errorf("script rule %d has no match pattern", i)
		}
	}

	return &script, nil
}

// Find returns the first rule whose match is contained in line, or nil.
func (s *Script) Find(line string) *Rule {
	lower := strings.ToLower(line)
	for i := range s.Rules {
		if strings.Contains(lower, strings.ToLower(s.Rules[i].Match)) {
			return &s.Rules[i]
		}
	}
	return nil
}
