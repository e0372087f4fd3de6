package galign

import (
	"context"

	"github.com/BurntSushi/toml"
	"github.com/grailbio/base/file"
	"github.com/pkg/errors"
)

// fileConfig mirrors the command-line flags so a run can be driven from a
// config file.  Flags given explicitly on the command line win.
type fileConfig struct {
	Freq        *int     `toml:"freq"`
	ChainMin    *int     `toml:"chain_min"`
	ChainBreak  *int     `toml:"chain_break"`
	AlignMin    *int     `toml:"align_min"`
	MinIdentity *float64 `toml:"identity"`
	TmpDir      *string  `toml:"tmp_dir"`
	OutRoot     *string  `toml:"out_root"`
	Verbose     *bool    `toml:"verbose"`
}

// ApplyConfig overlays the TOML config at path onto opts.  Only keys
// present in the file are applied.
func ApplyConfig(ctx context.Context, path string, opts *Opts) error {
	data, err := file.ReadFile(ctx, path)
	if err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	var c fileConfig
	if err := toml.Unmarshal(data, &c); err != nil {
		return errors.Wrapf(err, "parse config %s", path)
	}
	if c.Freq != nil {
		opts.Freq = *c.Freq
	}
	if c.ChainMin != nil {
		opts.ChainMin = *c.ChainMin
	}
	if c.ChainBreak != nil {
		opts.ChainBreak = *c.ChainBreak
	}
	if c.AlignMin != nil {
		opts.AlignMin = *c.AlignMin
	}
	if c.MinIdentity != nil {
		opts.MinIdentity = *c.MinIdentity
	}
	if c.TmpDir != nil {
		opts.TmpDir = *c.TmpDir
	}
	if c.OutRoot != nil {
		opts.OutRoot = *c.OutRoot
	}
	if c.Verbose != nil {
		opts.Verbose = *c.Verbose
	}
	return nil
}
