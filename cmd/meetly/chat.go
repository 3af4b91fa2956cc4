package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nugget/meetly/internal/agent"
	"github.com/nugget/meetly/internal/llm"
)

// isFarewell reports whether the user asked to end the chat.
func isFarewell(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "bye", "exit":
		return true
	}
	return false
}

// runChat is the interactive prompt. Each line is one turn on the
// selected thread. A failed turn is reported and the prompt continues;
// nothing from it was stored, so the user can simply try again.
func runChat(ctx context.Context, stdin io.Reader, stdout io.Writer, stderr io.Writer, opts options) error {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, newLogger(stderr, cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "User: ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if isFarewell(line) {
			return nil
		}

		resp, err := a.loop.Run(ctx, agent.Request{
			ThreadID: opts.thread,
			Content:  line,
			System:   a.systemPrompt(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(stdout, "Meetly: sorry, that did not work (%v)\n", err)
			continue
		}
		fmt.Fprintf(stdout, "Meetly: %s\n", resp.Content)
	}
}

// runAsk runs a single turn and prints the answer.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, opts options, question string) error {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, newLogger(stderr, cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.loop.Run(ctx, agent.Request{
		ThreadID: opts.thread,
		Content:  question,
		System:   a.systemPrompt(),
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintf(stdout, "Meetly: %s\n", resp.Content)
	return nil
}

// runHistory prints the stored messages of one thread. Only the sqlite
// session driver outlives the process, so this is mostly useful there.
func runHistory(ctx context.Context, stdout io.Writer, stderr io.Writer, opts options, threadID string) error {
	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, newLogger(stderr, cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	msgs, err := a.loop.Store().Load(ctx, threadID)
	if err != nil {
		return err
	}

	if opts.outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"thread_id": threadID, "messages": msgs})
	}
	if len(msgs) == 0 {
		fmt.Fprintf(stdout, "thread %s is empty\n", threadID)
		return nil
	}
	for _, m := range msgs {
		fmt.Fprintln(stdout, formatMessage(m))
	}
	return nil
}

func formatMessage(m llm.Message) string {
	switch m.Role {
	case llm.RoleAssistant:
		if m.HasToolCalls() {
			names := make([]string, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Function.Arguments)
				names[i] = fmt.Sprintf("%s(%s)", tc.Function.Name, args)
			}
			return "[assistant] calls " + strings.Join(names, ", ")
		}
		return "[assistant] " + m.Content
	case llm.RoleTool:
		status := "ok"
		if m.IsError {
			status = "error"
		}
		return fmt.Sprintf("[tool %s %s] %s", m.ToolName, status, m.Content)
	default:
		return fmt.Sprintf("[%s] %s", m.Role, m.Content)
	}
}
