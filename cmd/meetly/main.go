// Meetly is a conversational calendar agent.
//
// It answers questions about the user's calendar and creates events by
// letting a language model call calendar tools. Conversations are kept
// per thread and can be driven from an interactive prompt, an HTTP API,
// or an MCP client. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	meetly chat              Talk to Meetly interactively
//	meetly ask <question>    Ask a single question
//	meetly serve             Start the HTTP API server
//	meetly mcp               Serve the calendar tools over MCP on stdio
//	meetly history <thread>  Print a stored conversation
//	meetly init [dir]        Write an example config.yaml
//	meetly version           Print version and build information
//	meetly -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nugget/meetly/internal/buildinfo"
	"github.com/nugget/meetly/internal/config"
)

// defaultThread is used by chat and ask when -thread is not given.
const defaultThread = "cli"

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// options carries the global flags to the subcommands.
type options struct {
	configPath string
	thread     string
	outputFmt  string // "text" or "json"
}

// run is the real entry point. OS-level dependencies are parameters so
// the whole command can be driven from tests. Arguments are parsed by
// hand; the flag package keeps global state that gets in the way of
// running commands in parallel tests.
func run(ctx context.Context, stdin io.Reader, stdout io.Writer, stderr io.Writer, args []string) error {
	var opts options
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-thread" && i+1 < len(args):
			opts.thread = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-thread="):
			opts.thread = strings.TrimPrefix(args[i], "-thread=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}
	if opts.thread == "" {
		opts.thread = defaultThread
	}

	switch command {
	case "chat":
		return runChat(ctx, stdin, stdout, stderr, opts)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: meetly ask <question>")
		}
		return runAsk(ctx, stdout, stderr, opts, strings.Join(cmdArgs, " "))
	case "serve":
		return runServe(ctx, stdout, opts)
	case "mcp":
		return runMCP(ctx, stdin, stdout, stderr, opts)
	case "history":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: meetly history <thread>")
		}
		return runHistory(ctx, stdout, stderr, opts, cmdArgs[0])
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Meetly - Conversational Calendar Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: meetly [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat              Talk to Meetly interactively (type bye to quit)")
	fmt.Fprintln(w, "  ask <question>    Ask a single question")
	fmt.Fprintln(w, "  serve             Start the HTTP API server")
	fmt.Fprintln(w, "  mcp               Serve the calendar tools over MCP on stdio")
	fmt.Fprintln(w, "  history <thread>  Print a stored conversation")
	fmt.Fprintln(w, "  init [dir]        Write an example config.yaml (default: .)")
	fmt.Fprintln(w, "  version           Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -thread <id>      Conversation thread for chat, ask (default: cli)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/meetly/config.yaml, /etc/meetly/config.yaml")
	return nil
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Returns the
// parsed config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// newLogger builds the process logger from the configured level and
// format. Validate has already rejected unknown level names.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return config.NewLogger(w, level, cfg.LogFormat)
}
