// Package cli implements the medkeeper command line: the server and the
// operator commands for accounts, key custody and the audit log.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dmitrijs2005/medkeeper/internal/app"
	"github.com/dmitrijs2005/medkeeper/internal/config"
	"github.com/dmitrijs2005/medkeeper/internal/flagx"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/services"
	"golang.org/x/term"
)

// test seams
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
	newApp       = app.NewApp
	newKeyApp    = app.NewKeyApp
)

// Registrar creates accounts.
type Registrar interface {
	Register(ctx context.Context, req services.RegisterRequest) (*services.Session, error)
}

var openRegistrar = func(ctx context.Context, cfg *config.Config, log logging.Logger) (Registrar, func() error, error) {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return a.Auth, a.Close, nil
}

type command struct {
	summary string
	run     func(ctx context.Context, c *CLI, args []string) error
}

var commands = map[string]command{
	"serve":      {"run the HTTP API", serve},
	"register":   {"create an account: -u name [-n full name] [-role worker|doctor|admin]", register},
	"key-status": {"initialize the master key and report its state", keyStatus},
	"rotate-key": {"replace the master key; existing ciphertext becomes unreadable (needs -yes)", rotateKey},
	"export-key": {"print the master key for backup", exportKey},
	"import-key": {"replace the master key with one read from stdin (needs -yes)", importKey},
	"audit":      {"print the audit log as JSON: [-critical] [-stats]", auditLog},
	"version":    {"print build information", version},
}

type CLI struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Stdin file descriptor, used for hidden password input.
	StdinFD int

	stdin *bufio.Reader
}

func New() *CLI {
	return &CLI{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr, StdinFD: int(os.Stdin.Fd())}
}

// Run executes args[0] with the remaining arguments and returns the exit
// code.
func (c *CLI) Run(ctx context.Context, args []string) int {
	c.stdin = bufio.NewReader(c.Stdin)

	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		c.usage()
		return 0
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(c.Stderr, "unknown command %q\n", args[0])
		c.usage()
		return 2
	}
	if err := cmd.run(ctx, c, args[1:]); err != nil {
		fmt.Fprintf(c.Stderr, "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func (c *CLI) usage() {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)

	fmt.Fprintln(c.Stdout, "usage: medkeeper <command> [-c config.json] [flags]")
	for _, n := range names {
		fmt.Fprintf(c.Stdout, "  %-11s %s\n", n, commands[n].summary)
	}
}

// setup loads the configuration and logger shared by every command. Logs go
// to stderr so stdout stays clean for command output.
func (c *CLI) setup(args []string) (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(args)
	if err != nil {
		return nil, nil, err
	}
	log, err := app.NewLogger(cfg, c.Stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// localFlags parses the command's own flags out of args, ignoring the
// configuration flags.
func localFlags(args []string, define func(fs *flag.FlagSet)) error {
	fs := flag.NewFlagSet("command", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	define(fs)

	var owned []string
	fs.VisitAll(func(f *flag.Flag) { owned = append(owned, "-"+f.Name) })
	return fs.Parse(flagx.FilterArgs(args, owned))
}

func (c *CLI) readLine(prompt string) (string, error) {
	fmt.Fprint(c.Stderr, prompt)
	line, err := c.stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readSecret reads without echo from a terminal, or a plain line otherwise.
func (c *CLI) readSecret(prompt string) (string, error) {
	if !isTerminal(c.StdinFD) {
		return c.readLine(prompt)
	}
	fmt.Fprint(c.Stderr, prompt)
	b, err := readPassword(c.StdinFD)
	fmt.Fprintln(c.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *CLI) printJSON(v any) error {
	enc := json.NewEncoder(c.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
