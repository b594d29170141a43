// mock-gemini is a scripted stand-in for the Gemini CLI used by
// integration tests. It prints a banner, echoes prompts, and can raise
// interactive confirmation prompts driven by a script file.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gembridge/internal/mockscript"
)

const version = "0.1.0-mock"

func main() {
	scriptFile := flag.String("script", "", "Path to response script file (JSON)")
	banner := flag.String("banner", "Welcome to Gemini CLI (mock)", "Startup banner")
	delay := flag.Duration("delay", 0, "Extra delay before every response")
	showVersion := flag.Bool("version", false, "Print version and exit")

	// Accept and ignore the flags the real CLI takes.
	model := flag.String("m", "", "Model name")
	flag.Bool("d", false, "Debug mode")
	flag.Bool("c", false, "Checkpointing")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Diagnostics go to stderr; stdout belongs to the conversation.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	var script *mockscript.Script
	if *scriptFile != "" {
		var err error
		script, err = mockscript.Load(*scriptFile)
		if err != nil {
			logger.Error("failed to load script", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("mock gemini starting", "pid", os.Getpid(), "model", *model, "scripted", script != nil)

	fmt.Println(*banner)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			fmt.Println("Goodbye.")
			return
		}

		if *delay > 0 {
			time.Sleep(*delay)
		}

		rule := (*mockscript.Rule)(nil)
		if script != nil {
			rule = script.Find(line)
		}
		if rule == nil {
			respond(line)
			continue
		}

		if rule.DelayMs > 0 {
			time.Sleep(time.Duration(rule.DelayMs) * time.Millisecond)
		}
		if rule.Output != "" {
			fmt.Println(rule.Output)
		}
		if rule.Prompt == "" {
			continue
		}

		fmt.Println(rule.Prompt)
		if !scanner.Scan() {
			return
		}
		reply := rule.ReplyOutput
		if reply == "" {
			reply = "Acknowledged."
		}
		fmt.Println(reply)
	}
}

// respond handles unscripted input the way the tests expect: slash
// commands get canned answers, everything else is echoed back.
func respond(line string) {
	switch {
	case line == "/stats":
		fmt.Println("Session stats: 1 turn, 0 tool calls")
	case line == "/tools":
		fmt.Println("Available tools: read_file, write_file, shell")
	case line == "/memory":
		fmt.Println("Memory is empty")
	case line == "/compress":
		fmt.Println("Context compressed")
	case strings.HasPrefix(line, "/"):
		fmt.Printf("Unknown command: %s\n", line)
	default:
		fmt.Printf("You said: %s\n", line)
	}
}
