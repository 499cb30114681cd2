// Package cli contains all business logic needed by the stereocal command.
package cli

import (
	"context"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/stereocal/artifact"
	"go.viam.com/stereocal/board"
	"go.viam.com/stereocal/config"
	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/scans"
	"go.viam.com/stereocal/vision/charuco"
)

const (
	envKey    = "stereocal.env"
	loggerKey = "stereocal.logger"
)

// appEnv is what the global flags set up before any command runs.
type appEnv struct {
	cfg      *config.Config
	logger   logging.Logger
	debug    bool
	progress bool
	closeLog func() error
}

func setupEnv(c *cli.Context) error {
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	env := &appEnv{
		debug:    c.Bool(debugFlag),
		progress: !c.Bool(noProgressFlag),
		closeLog: func() error { return nil },
	}
	switch logger, ok := c.App.Metadata[loggerKey].(logging.Logger); {
	case ok:
		env.logger = logger
	case c.String(logFileFlag) != "":
		env.logger, env.closeLog = logging.NewFileLogger("stereocal", env.debug, logging.FileConfig{Path: c.String(logFileFlag)})
	case env.debug:
		env.logger = logging.NewDebugLogger("stereocal")
	default:
		env.logger = logging.NewLogger("stereocal")
	}
	logging.ReplaceGlobal(env.logger)

	cfg, err := config.Load(c.Context, c.String(configFlag), env.logger)
	if err != nil {
		return multierr.Combine(err, env.closeLog())
	}
	env.cfg = cfg
	c.App.Metadata[envKey] = env
	return nil
}

func teardownEnv(c *cli.Context) error {
	env, ok := c.App.Metadata[envKey].(*appEnv)
	if !ok {
		return nil
	}
	delete(c.App.Metadata, envKey)
	return env.closeLog()
}

// calClient wraps a cli.Context with the configuration and logger every command needs.
type calClient struct {
	c      *cli.Context
	env    *appEnv
	cfg    *config.Config
	logger logging.Logger
}

func newCalClient(c *cli.Context) (*calClient, error) {
	env, ok := c.App.Metadata[envKey].(*appEnv)
	if !ok {
		return nil, errors.New("stereocal environment not initialized")
	}
	return &calClient{c: c, env: env, cfg: env.cfg, logger: env.logger}, nil
}

func (cc *calClient) ctx() context.Context {
	ctx := cc.c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if cc.env.debug {
		ctx = logging.EnableDebugMode(ctx)
	}
	return ctx
}

func (cc *calClient) board() (*board.Board, error) {
	return board.New(cc.cfg.Board)
}

// detector returns a corner detector and a function releasing its marker backend.
func (cc *calClient) detector() (*charuco.Detector, func() error, error) {
	b, err := cc.board()
	if err != nil {
		return nil, nil, err
	}
	markers, closer, err := newMarkerDetector(cc.cfg.Board.Dictionary)
	if err != nil {
		return nil, nil, err
	}
	det, err := charuco.NewDetector(b, markers, cc.cfg.Detection, cc.logger)
	if err != nil {
		return nil, nil, multierr.Combine(err, closer())
	}
	return det, closer, nil
}

func (cc *calClient) store() (*artifact.Store, error) {
	return artifact.Open(cc.cfg.Paths.Artifacts, cc.logger)
}

func (cc *calClient) dataset() (*scans.Dataset, error) {
	return scans.Open(cc.cfg.Paths.Scans)
}

func (cc *calClient) progress(steps ...*Step) *ProgressManager {
	return NewProgressManager(cc.c.App.ErrWriter, steps, WithProgressOutput(cc.env.progress))
}

// logProgress records a failed progress display call. Display problems never fail a command.
func (cc *calClient) logProgress(err error) {
	if err != nil {
		cc.logger.Debugw("progress display failed", "error", err)
	}
}
