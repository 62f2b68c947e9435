package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/convoset/internal/config"
	"github.com/hpungsan/convoset/internal/db"
	"github.com/hpungsan/convoset/internal/mcp"
	"github.com/hpungsan/convoset/internal/store"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"list": true, "create": true, "records": true, "append": true,
	"edit": true, "truncate": true, "branch": true,
	"export": true, "import": true, "encrypt": true, "decrypt": true,
	"stats": true, "serve": true,
	"help": true,
}

// commandArg returns the first argument that is not a global flag or its value.
func commandArg(args []string) string {
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--backend" || arg == "-b":
			i++ // skip value
		case strings.HasPrefix(arg, "--backend=") || strings.HasPrefix(arg, "-b="):
		default:
			return arg
		}
	}
	return ""
}

// backendArg returns the value of a --backend flag given before the command.
func backendArg(args []string) string {
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--backend" || arg == "-b":
			if i+1 < len(args) {
				return args[i+1]
			}
			return ""
		case strings.HasPrefix(arg, "--backend="):
			return strings.TrimPrefix(arg, "--backend=")
		case strings.HasPrefix(arg, "-b="):
			return strings.TrimPrefix(arg, "-b=")
		case !strings.HasPrefix(arg, "-"):
			return ""
		}
	}
	return ""
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	arg := commandArg(os.Args)
	if arg == "" {
		return false // No command → MCP server
	}
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
   ___ ___  _ ___ _____ ___ ___ _____
  / __/ _ \| ' \ V / _ (_-</ -_)  _|
  \___\___/|_||_\_/\___/__/\___|\__|

  Labeled conversation dataset builder

  Usage: convoset <command> [options]
         convoset --help

  MCP server mode requires piped input.`)
}

// openStore opens the dataset store selected by cfg.Backend.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		st, err := db.Open(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		db.ConfigurePool(st.DB(), cfg)
		return st, nil
	case config.BackendFile, "":
		return store.NewFileStore(cfg.DataDir)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// loadConfig reads global and repo config and applies environment overrides.
func loadConfig(baseDir string) (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before opening a store
	if isHelpOrVersion() {
		app := newCLIApp(config.DefaultConfig(), nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}

	baseDir := filepath.Join(homeDir, config.DirName)

	cfg, err := loadConfig(baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	// CLI mode: known subcommand
	if isCLIMode() {
		app := newCLIApp(cfg, openStore)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if arg := commandArg(os.Args); arg != "" && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", arg)
		fmt.Fprintf(os.Stderr, "Run 'convoset --help' for usage.\n")
		os.Exit(1)
	}

	// MCP server mode (default)
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		log.Printf("warning: unknown tools in disabled_tools: %s", strings.Join(unknown, ", "))
	}

	if b := backendArg(os.Args); b != "" {
		cfg.Backend = b
	}
	st, err := openStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to open %s store: %v\n", cfg.Backend, err)
		os.Exit(1)
	}
	defer st.Close()

	if err := mcp.Run(st, cfg, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
