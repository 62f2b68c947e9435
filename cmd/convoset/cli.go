package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/convoset/internal/config"
	"github.com/hpungsan/convoset/internal/dataset"
	"github.com/hpungsan/convoset/internal/errors"
	"github.com/hpungsan/convoset/internal/ops"
	"github.com/hpungsan/convoset/internal/store"
	"github.com/hpungsan/convoset/internal/web"
)

// maxMessageBytes bounds a turn message read from stdin.
const maxMessageBytes = 1 << 20

// storeOpener opens the dataset store for the configured backend.
type storeOpener func(cfg *config.Config) (store.Store, error)

// cliEnv is shared by all commands. The store is opened once global flags
// are parsed.
type cliEnv struct {
	cfg  *config.Config
	open storeOpener
	st   store.Store
}

// newCLIApp creates the CLI application with all commands.
// A nil opener leaves the store closed (help and version only).
func newCLIApp(cfg *config.Config, open storeOpener) *cli.App {
	env := &cliEnv{cfg: cfg, open: open}
	app := &cli.App{
		Name:    "convoset",
		Usage:   "Labeled conversation dataset builder",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "backend", Aliases: []string{"b"}, Usage: "Dataset store: file|sqlite (overrides config)"},
		},
		Before: env.before,
		After:  env.after,
		Commands: []*cli.Command{
			listCmd(env),
			createCmd(env),
			recordsCmd(env),
			appendCmd(env),
			editCmd(env),
			truncateCmd(env),
			branchCmd(env),
			exportCmd(env),
			importCmd(env),
			encryptCmd(env),
			decryptCmd(env),
			statsCmd(env),
			serveCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func (e *cliEnv) before(c *cli.Context) error {
	if b := c.String("backend"); b != "" {
		e.cfg.Backend = b
		if err := e.cfg.Validate(); err != nil {
			return outputError(errors.NewInvalidRequest(err.Error()))
		}
	}
	if e.open == nil {
		return nil
	}
	st, err := e.open(e.cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to open %s store: %v", e.cfg.Backend, err), 1)
	}
	e.st = st
	return nil
}

func (e *cliEnv) after(_ *cli.Context) error {
	if e.st == nil {
		return nil
	}
	err := e.st.Close()
	e.st = nil
	return err
}

// listCmd creates the list command.
func listCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List dataset names",
		Action: func(c *cli.Context) error {
			output, err := ops.ListDatasets(c.Context, env.st)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// createCmd creates the create command.
func createCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create an empty dataset",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, "name"); err != nil {
				return err
			}
			output, err := ops.CreateDataset(c.Context, env.st, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// recordsCmd creates the records command.
func recordsCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "records",
		Usage:     "Print a dataset's blocks, oldest first",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, "name"); err != nil {
				return err
			}
			output, err := ops.Records(c.Context, env.st, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// appendCmd creates the append command.
func appendCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "append",
		Usage:     "Append a turn (message from arguments or stdin)",
		ArgsUsage: "<name> [message...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "role", Aliases: []string{"r"}, Usage: "Speaker: user|ai"},
			&cli.StringFlag{Name: "traits", Aliases: []string{"t"}, Usage: "Trait scores, e.g. trust=0.5,sad=1"},
			&cli.StringFlag{Name: "mood", Usage: "Mood label (default: neutral)"},
			&cli.StringFlag{Name: "emotion", Usage: "Emotion label (default: none)"},
			&cli.IntFlag{Name: "nsfw", Usage: "NSFW level"},
			&cli.BoolFlag{Name: "encrypt", Usage: "Store the message encrypted"},
			passphraseFlag(),
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, "name"); err != nil {
				return err
			}

			message := strings.Join(c.Args().Tail(), " ")
			if message == "" && stdinHasData() {
				text, err := readStdin(maxMessageBytes)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				message = text
			}

			traits, err := parseTraits(c.String("traits"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			input := ops.AppendTurnInput{
				Name:    c.Args().First(),
				Role:    c.String("role"),
				Message: message,
				Traits:  traits,
				Mood:    c.String("mood"),
				Emotion: c.String("emotion"),
				NSFW:    c.Int("nsfw"),
			}
			if c.Bool("encrypt") {
				pass, err := passphrase(c, env.cfg)
				if err != nil {
					return err
				}
				input.Passphrase = pass
			}

			output, err := ops.AppendTurn(c.Context, env.st, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// editCmd creates the edit command.
func editCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Rewrite the prompt and/or response of one slot",
		ArgsUsage: "<name> <index>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "prompt", Aliases: []string{"p"}, Usage: "New prompt text"},
			&cli.StringFlag{Name: "response", Aliases: []string{"r"}, Usage: "New response text"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, "name", "index"); err != nil {
				return err
			}
			index, err := parseIndex(c.Args().Get(1))
			if err != nil {
				return err
			}

			input := ops.EditTurnInput{Name: c.Args().First(), Index: index}
			if c.IsSet("prompt") {
				p := c.String("prompt")
				input.Prompt = &p
			}
			if c.IsSet("response") {
				r := c.String("response")
				input.Response = &r
			}

			output, err := ops.EditTurn(c.Context, env.st, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// truncateCmd creates the truncate command.
func truncateCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "truncate",
		Usage:     "Remove the slot at index and everything after it",
		ArgsUsage: "<name> <index>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, "name", "index"); err != nil {
				return err
			}
			index, err := parseIndex(c.Args().Get(1))
			if err != nil {
				return err
			}

			output, err := ops.Truncate(c.Context, env.st, ops.TruncateInput{
				Name:  c.Args().First(),
				Index: index,
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// branchCmd creates the branch command.
func branchCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "branch",
		Usage:     "Copy slots 0..index (inclusive) into a new dataset",
		ArgsUsage: "<name> <index> <new-name>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, "name", "index", "new-name"); err != nil {
				return err
			}
			index, err := parseIndex(c.Args().Get(1))
			if err != nil {
				return err
			}

			output, err := ops.Branch(c.Context, env.st, ops.BranchInput{
				Name:    c.Args().First(),
				Index:   index,
				NewName: c.Args().Get(2),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export a dataset to a file",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: ops.FormatJSON, Usage: "Output format: json|jsonl|yaml"},
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Export file path (default: ~/.convoset/exports/<name>-<timestamp>.<ext>)"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, "name"); err != nil {
				return err
			}
			output, err := ops.Export(c.Context, env.st, env.cfg, ops.ExportInput{
				Name:   c.Args().First(),
				Path:   c.String("path"),
				Format: c.String("format"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// importCmd creates the import command.
func importCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import a dataset from a .json or .jsonl file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Import file path"},
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Dataset name (default: file name)"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: string(ops.ImportModeError), Usage: "Collision mode: error|replace"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.Import(c.Context, env.st, env.cfg, ops.ImportInput{
				Path: c.String("path"),
				Name: c.String("name"),
				Mode: ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// encryptCmd creates the encrypt command.
func encryptCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "encrypt",
		Usage:     "Encrypt every plain turn in a dataset",
		ArgsUsage: "<name>",
		Flags:     []cli.Flag{passphraseFlag()},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, "name"); err != nil {
				return err
			}
			pass, err := passphrase(c, env.cfg)
			if err != nil {
				return err
			}
			output, err := ops.EncryptDataset(c.Context, env.st, ops.CryptInput{Name: c.Args().First(), Passphrase: pass})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// decryptCmd creates the decrypt command.
func decryptCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "decrypt",
		Usage:     "Decrypt every encrypted turn in a dataset",
		ArgsUsage: "<name>",
		Flags:     []cli.Flag{passphraseFlag()},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, "name"); err != nil {
				return err
			}
			pass, err := passphrase(c, env.cfg)
			if err != nil {
				return err
			}
			output, err := ops.DecryptDataset(c.Context, env.st, ops.CryptInput{Name: c.Args().First(), Passphrase: pass})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// statsCmd creates the stats command.
func statsCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "stats",
		Usage:     "Summarize a dataset",
		ArgsUsage: "<name>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, "name"); err != nil {
				return err
			}
			output, err := ops.Stats(c.Context, env.st, c.Args().First())
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, output)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the JSON API and transcript viewer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Usage: "Address to bind (default from config: 127.0.0.1)"},
			&cli.IntFlag{Name: "port", Usage: "Port to listen on (default from config or PORT: 3000)"},
		},
		Action: func(c *cli.Context) error {
			if c.IsSet("bind") {
				env.cfg.Bind = c.String("bind")
			}
			if c.IsSet("port") {
				env.cfg.Port = c.Int("port")
			}
			if err := env.cfg.Validate(); err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}

			srv := web.NewServer(env.st, env.cfg, Version)
			if err := web.Run(srv); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	}
}

// Helper functions

// passphraseFlag is shared by commands that encrypt or decrypt.
func passphraseFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "passphrase",
		EnvVars: []string{"CONVOSET_PASSPHRASE"},
		Usage:   "Codec passphrase (default from config)",
	}
}

// passphrase returns the flag or env passphrase, falling back to config.
func passphrase(c *cli.Context, cfg *config.Config) (string, error) {
	if p := c.String("passphrase"); p != "" {
		return p, nil
	}
	if cfg.Passphrase != "" {
		return cfg.Passphrase, nil
	}
	return "", outputError(errors.NewInvalidRequest("a passphrase is required (--passphrase, CONVOSET_PASSPHRASE or config)"))
}

// outputJSON writes result to the app writer as indented JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var cErr *errors.ConvoError
	if stderrors.As(err, &cErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", cErr.Code, cErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// requireArgs checks that the named positional arguments are present.
func requireArgs(c *cli.Context, names ...string) error {
	if c.NArg() < len(names) {
		missing := names[c.NArg()]
		return outputError(errors.NewInvalidRequest(fmt.Sprintf("missing argument <%s>", missing)))
	}
	return nil
}

// parseIndex parses a positional slot index.
func parseIndex(s string) (int, error) {
	index, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, outputError(errors.NewInvalidRequest(fmt.Sprintf("index must be an integer, got %q", s)))
	}
	return index, nil
}

// parseTraits parses "key=value,key=value" into Traits. Unknown keys fail.
func parseTraits(s string) (dataset.Traits, error) {
	var traits dataset.Traits
	if strings.TrimSpace(s) == "" {
		return traits, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return traits, fmt.Errorf("trait %q must be key=value", part)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return traits, fmt.Errorf("trait %q: invalid score %q", key, value)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if !traits.Set(key, v) {
			return traits, fmt.Errorf("unknown trait %q (want one of %s)", key, strings.Join(dataset.TraitKeys[:], ", "))
		}
	}
	return traits, nil
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads stdin up to limit bytes.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("stdin exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}
