package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"shipit.dev/shipit/internal/config"
	"shipit.dev/shipit/internal/engine"
	"shipit.dev/shipit/internal/git"
	"shipit.dev/shipit/internal/output"
	"shipit.dev/shipit/internal/prompt"
	"shipit.dev/shipit/internal/resolution"
)

// Context provides access to the repository session, settings and output for commands
type Context struct {
	Context  context.Context
	Config   *config.Config
	Session  *git.Session
	Splog    *output.Splog
	Operator prompt.Operator
}

// Options configures NewContext
type Options struct {
	// Dir is any directory inside the working tree. Defaults to ".".
	Dir string
	// Viper holds the bound command line flags
	Viper   *viper.Viper
	Verbose bool
	// Out receives console output. Defaults to stdout.
	Out io.Writer
	// Operator answers prompts. Defaults to the terminal.
	Operator prompt.Operator
}

// NewContext loads the configuration of the repository containing opts.Dir and
// opens a session on it
func NewContext(ctx context.Context, opts Options) (*Context, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.Viper == nil {
		opts.Viper = viper.New()
	}

	repo, err := git.OpenRepository(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %w", err)
	}
	cfg, err := config.Load(opts.Viper, repo.Root())
	if err != nil {
		return nil, err
	}

	session, err := git.NewSession(git.SessionOptions{
		Dir:        repo.Root(),
		Remote:     cfg.Remote,
		PushRemote: cfg.PushRemote,
		Target:     cfg.Target,
		Trunk:      cfg.Trunk,
	})
	if err != nil {
		return nil, err
	}

	splog, err := output.New(output.Options{
		Writer:  opts.Out,
		Verbose: opts.Verbose || os.Getenv("DEBUG") != "",
		LogFile: cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}

	operator := opts.Operator
	if operator == nil {
		operator = prompt.NewTerminal()
	}

	return &Context{
		Context:  ctx,
		Config:   cfg,
		Session:  session,
		Splog:    splog,
		Operator: operator,
	}, nil
}

// Orchestrator creates the orchestrator a strategy runs on
func (c *Context) Orchestrator() *engine.Orchestrator {
	return engine.NewOrchestrator(c.Session, c.Splog, engine.Options{
		Scheme: resolution.Scheme{Prefix: c.Config.ResolutionPrefix, Trunk: c.Config.Trunk},
	})
}

// Path resolves a configured file name against the repository root
func (c *Context) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Session.Root(), name)
}

// Close releases the log file
func (c *Context) Close() error {
	return c.Splog.Close()
}
