// Package app wires configuration, logging, the provider client, tools and
// metrics into engine sessions for the command-line binaries.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"

	"github.com/m4xw311/conductor/agent"
	"github.com/m4xw311/conductor/config"
	"github.com/m4xw311/conductor/errors"
	"github.com/m4xw311/conductor/llm"
	"github.com/m4xw311/conductor/logging"
	"github.com/m4xw311/conductor/metrics"
	"github.com/m4xw311/conductor/ratelimit"
	"github.com/m4xw311/conductor/session"
	"github.com/m4xw311/conductor/tools"
	"github.com/m4xw311/conductor/tools/mcp"
	"github.com/m4xw311/conductor/transaction"
)

// Options are the command-line overrides.
type Options struct {
	// Dir is the project directory; empty means the working directory.
	Dir string
	// ConfigPath, when set, replaces the layered user and project files.
	ConfigPath string
	Model      string
	Verbosity  int
}

// ErrSessionInUse is returned by Claim for a session another caller holds.
var ErrSessionInUse = errors.Sentinel("session is already open")

// App holds what every session of a process shares: one rate window for the
// provider account, and one transaction store and turn slot for the
// project directory.
type App struct {
	Config  *config.Config
	Client  llm.Client
	Metrics *metrics.Collector
	Limiter *ratelimit.Limiter
	Store   *transaction.Store
	Log     logr.Logger
	Dir     string

	turns    *semaphore.Weighted
	mcp      []*mcp.Client
	mcpTools *tools.Registry
	closer   io.Closer

	mu   sync.Mutex
	live map[string]bool
}

// New loads configuration and builds the shared collaborators. MCP servers
// that fail to start are logged and skipped.
func New(ctx context.Context, opts Options) (*App, error) {
	dir := opts.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrapf(err, "could not get working directory")
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not resolve %s", dir)
	}

	var cfg *config.Config
	if opts.ConfigPath != "" {
		cfg, err = config.LoadFile(opts.ConfigPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}
	if opts.Model != "" {
		cfg.Model = opts.Model
	}
	if opts.Verbosity > cfg.Log.Verbosity {
		cfg.Log.Verbosity = opts.Verbosity
	}

	logFile := cfg.Log.File
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(dir, logFile)
	}
	log, closer, err := logging.New(logging.Options{File: logFile, Verbosity: cfg.Log.Verbosity})
	if err != nil {
		return nil, err
	}

	client, err := llm.NewFromConfig(ctx, cfg, log)
	if err != nil {
		closer.Close()
		return nil, err
	}

	var lopts []ratelimit.Option
	if !cfg.Settings.RateLimiterEnabled {
		lopts = append(lopts, ratelimit.WithDisabled())
	}
	root := ""
	if cfg.Settings.SandboxEnabled {
		root = dir
	}
	a := &App{
		Config:   cfg,
		Client:   client,
		Metrics:  metrics.New(),
		Limiter:  ratelimit.New(lopts...),
		Store:    transaction.NewStore(root),
		Log:      log,
		Dir:      dir,
		turns:    semaphore.NewWeighted(1),
		mcpTools: tools.NewRegistry(),
		closer:   closer,
		live:     map[string]bool{},
	}
	a.mcp, err = mcp.RegisterAll(ctx, a.mcpTools, cfg.AdditionalMCPServers, log)
	if err != nil {
		log.Error(err, "some MCP servers could not be started")
	}
	log.Info("started", "dir", dir, "llm", cfg.LLMClient, "model", cfg.Model, "sandbox", root, "mcpServers", len(a.mcp))
	return a, nil
}

// BaseDir holds sessions, the ignore file and the project config.
func (a *App) BaseDir() string {
	return filepath.Join(a.Dir, config.DirName)
}

// Claim marks the session name as open until release is called.
func (a *App) Claim(name string) (release func(), err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.live[name] {
		return nil, ErrSessionInUse
	}
	a.live[name] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.live, name)
			a.mu.Unlock()
		})
	}, nil
}

// NewSession builds an engine session named name. With resume set the
// stored transcript must exist. Sessions of one App take turns: a worker
// waits while another session's turn is in flight.
func (a *App) NewSession(name string, resume bool) (*agent.Session, error) {
	var (
		tr  *session.Session
		err error
	)
	if resume {
		tr, err = session.Load(a.BaseDir(), name)
	} else {
		tr, err = session.New(a.BaseDir(), name)
	}
	if err != nil {
		return nil, err
	}

	env := tools.NewEnv(a.Dir, a.Store, a.Config.FilesystemAccess, a.Log)
	registry := tools.NewBuiltinRegistry(env)
	for _, name := range a.mcpTools.Names() {
		if t, ok := a.mcpTools.Get(name); ok {
			registry.Register(t)
		}
	}

	log := a.Log.WithValues("session", name)
	return agent.New(agent.Options{
		Config:     a.Config,
		Client:     a.Client,
		Executor:   tools.NewExecutor(registry, log),
		Store:      a.Store,
		Limiter:    a.Limiter,
		Turns:      a.turns,
		Transcript: tr,
		Metrics:    a.Metrics,
		Dir:        a.Dir,
		Log:        log,
	}), nil
}

// Close stops MCP servers and flushes the log file.
func (a *App) Close() error {
	var result *multierror.Error
	for _, c := range a.mcp {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.closer != nil {
		if err := a.closer.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// DefaultSessionName is the project directory name plus a timestamp.
func DefaultSessionName(dir string, now time.Time) string {
	name := filepath.Base(dir)
	if name == "." || name == string(filepath.Separator) {
		name = "conductor"
	}
	return fmt.Sprintf("%s_%s", name, now.Format("2006-01-02_15-04-05"))
}
