package config

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"go.viam.com/stereocal/logging"
)

// Read reads a config from the given file, substituting ${VAR} references from the environment.
func Read(ctx context.Context, filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", filePath)
	}
	return FromReader(ctx, filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies where, if applicable, the file
// the reader originated from. The input is JSON5, so comments and trailing commas are allowed.
// Fields absent from the input keep their defaults; camera entries are merged into the default
// roles.
func FromReader(ctx context.Context, originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", originalPath)
	}
	var raw interface{}
	if err := json5.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %q", originalPath)
	}
	// re-encoded as plain JSON so unknown fields are rejected
	canonical, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %q", originalPath)
	}
	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(canonical))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %q", originalPath)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg.ConfigFilePath = originalPath
	if err := cfg.Ensure(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %q", originalPath)
	}
	logger.Debugw("config loaded", "path", originalPath, "board", cfg.Board, "scans", cfg.Paths.Scans, "artifacts", cfg.Paths.Artifacts)
	return cfg, nil
}

// Load reads filePath when it is set and returns the validated defaults otherwise.
func Load(ctx context.Context, filePath string, logger logging.Logger) (*Config, error) {
	if filePath == "" {
		cfg := Default()
		return cfg, cfg.Ensure()
	}
	return Read(ctx, filePath, logger)
}
