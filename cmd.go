package hylord

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
)

// config is the plain value bag the CLI layer fills in and the
// pipeline consumes. The core never touches os.Args itself.
type config struct {
	threads             int
	cpgListFile         string
	referenceMatrixFile string
	cellTypeListFile    string
	additionalCellTypes int
	outFilePath         string
	maxIterations       int
	loopTolerance       float64
	minReadDepth        int
	maxReadDepth        int
	onlyMethyl          bool
	onlyHydroxy         bool
	seed                uint64
	dumpReferenceFile   string
	bedmethylFile       string
}

type runCommand struct {
	config config
}

func (cmd *runCommand) RunCommand(prog string, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var err error
	defer func() {
		if err != nil {
			fmt.Fprintf(stderr, "%s\n", err)
		}
	}()
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintf(stderr, "usage: %s [options] bedmethyl-file\n\nA hybrid cell type deconvolution algorithm for long read (ONT) data.\n\n", prog)
		flags.PrintDefaults()
	}
	flags.IntVar(&cmd.config.threads, "threads", 0, "number of parse threads, `N`<=0 means one per CPU")
	flags.IntVar(&cmd.config.threads, "t", 0, "short for -threads `N`")
	flags.StringVar(&cmd.config.cpgListFile, "cpg-list", "", "list of CpG sites (BED4 `file`) to deconvolve over; defaults to all sites in the bedmethyl file")
	flags.StringVar(&cmd.config.referenceMatrixFile, "reference-matrix", "", "matrix of reference methylation signals (BED4+x `file`, one column per cell type)")
	flags.StringVar(&cmd.config.cellTypeListFile, "cell-type-list", "", "newline separated cell type names `file` matching the reference matrix columns")
	flags.IntVar(&cmd.config.additionalCellTypes, "additional-cell-types", 0, "number `N` of expected cell types missing from the reference (0-100)")
	flags.StringVar(&cmd.config.outFilePath, "o", "", "write cell proportions to `file` instead of stdout (never overwrites)")
	flags.IntVar(&cmd.config.maxIterations, "max-iterations", 5, "maximum `N` iterations of the refinement loop (1-100); unused without -additional-cell-types")
	flags.Float64Var(&cmd.config.loopTolerance, "loop-tolerance", 1e-8, "stop refining once the squared change in proportions drops below `T`")
	flags.IntVar(&cmd.config.minReadDepth, "min-read-depth", 0, "drop bedmethyl rows with read depth <= `N`")
	flags.IntVar(&cmd.config.maxReadDepth, "max-read-depth", 0, "drop bedmethyl rows with read depth >= `N` (0 disables)")
	flags.BoolVar(&cmd.config.onlyMethyl, "only-methyl", false, "use only methylation ('m') rows of the bedmethyl file")
	flags.BoolVar(&cmd.config.onlyHydroxy, "only-hydroxy", false, "use only hydroxymethylation ('h') rows of the bedmethyl file")
	flags.Uint64Var(&cmd.config.seed, "seed", uint64(time.Now().UnixNano()), "random `seed` for novel profile sampling")
	flags.StringVar(&cmd.config.dumpReferenceFile, "dump-reference", "", "write the refined reference matrix to `file` (.npy)")
	pprof := flags.String("pprof", "", "serve Go profile data at http://`[addr]:port`")
	loglevel := flags.String("loglevel", "info", "logging threshold (trace, debug, info, warn, error, fatal, or panic)")
	err = flags.Parse(args)
	if err == flag.ErrHelp {
		err = nil
		return 0
	} else if err != nil {
		return 2
	} else if flags.NArg() != 1 {
		flags.Usage()
		return 2
	}
	cmd.config.bedmethylFile = flags.Arg(0)

	if err = validateConfig(&cmd.config); err != nil {
		return 2
	}

	lvl, err := log.ParseLevel(*loglevel)
	if err != nil {
		return 2
	}
	log.SetLevel(lvl)

	if *pprof != "" {
		go func() {
			log.Println(http.ListenAndServe(*pprof, nil))
		}()
	}

	err = runDeconvolution(&cmd.config, stdout)
	if err != nil {
		return 1
	}
	return 0
}

// validateConfig rejects bad configurations before any file I/O.
func validateConfig(config *config) error {
	if config.additionalCellTypes < 0 || config.additionalCellTypes > 100 {
		return errors.New("-additional-cell-types must be in [0, 100]")
	}
	if config.maxIterations < 1 || config.maxIterations > 100 {
		return errors.New("-max-iterations must be in [1, 100]")
	}
	if config.loopTolerance < 0 {
		return errors.New("-loop-tolerance must be non-negative")
	}
	if config.minReadDepth < 0 || config.maxReadDepth < 0 {
		return errors.New("read depth bounds must be non-negative")
	}
	if config.maxReadDepth > 0 && config.maxReadDepth <= config.minReadDepth {
		return errors.New("-max-read-depth must be greater than -min-read-depth")
	}
	if config.onlyMethyl && config.onlyHydroxy {
		return errors.New("-only-methyl and -only-hydroxy are mutually exclusive")
	}
	if config.referenceMatrixFile == "" && config.additionalCellTypes < 1 {
		return errors.New("if no reference matrix is provided, -additional-cell-types must be set (>0)")
	}
	return nil
}

func Main() {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		log.StandardLogger().Formatter = &log.TextFormatter{DisableTimestamp: true}
	}
	os.Exit((&runCommand{}).RunCommand(os.Args[0], os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
