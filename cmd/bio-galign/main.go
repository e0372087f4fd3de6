package main

// bio-galign computes local alignments between two genome assemblies from
// their pre-built k-mer and position indices.
//
// Example:
//
//	bio-galign -v -f 10 -P /scratch -o human_vs_chimp human chimp
//
// reads human.ktab/.post/.gdb and chimp.ktab/.post/.gdb and writes
// human_vs_chimp.las.  The thread count is fixed by the indices' shard
// layout; both indices must be built with the same k-mer length and shard
// count.

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"

	"github.com/grailbio/galign"
)

func usage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, `
bio-galign finds local alignments between two assemblies from their k-mer
indices.

Usage:
  bio-galign [-v] [-P scratch] [-o outroot] [-config file] -f freq
             [-c chainmin] [-s chainbreak] [-a alignmin] [-e identity]
             <src1> <src2>

  Required Positional Arguments:
    src1    Root path of the first assembly's .ktab/.post/.gdb index.
    src2    Root path of the second assembly's index.

Options:`)
	fs.PrintDefaults()
	os.Exit(1)
}

func main() {
	// A private flag set: the merge fallback links vlog, whose global
	// flags would collide with the short option names here.
	fs := flag.NewFlagSet("bio-galign", flag.ExitOnError)
	opts := galign.DefaultOpts
	configPath := fs.String("config", "", "TOML file with defaults for the flags below.")
	fs.BoolVar(&opts.Verbose, "v", false, "Report per-phase statistics.")
	fs.StringVar(&opts.TmpDir, "P", galign.DefaultOpts.TmpDir, "Directory for seed shards and alignment temp files.")
	fs.StringVar(&opts.OutRoot, "o", "", "Root name of the output .las (default: src1).")
	fs.IntVar(&opts.Freq, "f", 0, "Adaptive seed frequency cutoff (mandatory).")
	fs.IntVar(&opts.ChainMin, "c", galign.DefaultOpts.ChainMin, "Minimum chain coverage in bases.")
	fs.IntVar(&opts.ChainBreak, "s", galign.DefaultOpts.ChainBreak, "Chain break gap in bases.")
	fs.IntVar(&opts.AlignMin, "a", galign.DefaultOpts.AlignMin, "Minimum alignment span in bases.")
	fs.Float64Var(&opts.MinIdentity, "e", galign.DefaultOpts.MinIdentity, "Minimum alignment identity, in [0.6, 1.0).")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 2 {
		usage(fs)
	}

	ctx := vcontext.Background()
	if *configPath != "" {
		// The config supplies defaults; explicit flags win.
		fromFile := galign.DefaultOpts
		if err := galign.ApplyConfig(ctx, *configPath, &fromFile); err != nil {
			log.Error.Printf("%v", err)
			os.Exit(1)
		}
		given := map[string]bool{}
		fs.Visit(func(f *flag.Flag) { given[f.Name] = true })
		if !given["f"] {
			opts.Freq = fromFile.Freq
		}
		if !given["c"] {
			opts.ChainMin = fromFile.ChainMin
		}
		if !given["s"] {
			opts.ChainBreak = fromFile.ChainBreak
		}
		if !given["a"] {
			opts.AlignMin = fromFile.AlignMin
		}
		if !given["e"] {
			opts.MinIdentity = fromFile.MinIdentity
		}
		if !given["P"] {
			opts.TmpDir = fromFile.TmpDir
		}
		if !given["o"] {
			opts.OutRoot = fromFile.OutRoot
		}
		if !given["v"] {
			opts.Verbose = fromFile.Verbose
		}
	}

	if err := galign.Run(opts, fs.Arg(0), fs.Arg(1)); err != nil {
		log.Error.Printf("%v", err)
		os.Exit(1)
	}
}
