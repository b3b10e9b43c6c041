package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	oai "github.com/houillon/basic-oai-harvester"
	"github.com/houillon/basic-oai-harvester/config"
	"github.com/houillon/basic-oai-harvester/harvest"
	"github.com/houillon/basic-oai-harvester/sink"
	"github.com/houillon/basic-oai-harvester/status"
)

var log = logging.Logger("cli")

var (
	cfg        config.Config
	configPath string
	verbose    bool
	dir        string

	prefixes []string
	sets     []string
	from     string
	until    string
)

var rootCmd = &cobra.Command{
	Use:   "basic-oai-harvester <baseUrl>",
	Short: "Harvest metadata from an OAI-PMH repository",
	Long: `Harvests the metadata of all records of an OAI-PMH repository, or of some of
its sets, into a directory. Each record is written to <dir>/<identifier>/<prefix>.xml,
the progress is kept in <dir>/harvest-status.json, so that an interrupted harvest
can be resumed and a complete one updated.`,
	Version:           oai.Version,
	Args:              cobra.ExactArgs(1),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := harvest.Options{
			BaseURL:          args[0],
			MetadataPrefixes: prefixes,
			Sets:             sets,
		}
		var err error
		if opts.From, err = boundary(from); err != nil {
			return errors.Wrap(err, "from")
		}
		if opts.Until, err = boundary(until); err != nil {
			return errors.Wrap(err, "until")
		}
		if opts.Dir, err = destination(); err != nil {
			return err
		}
		if err := oai.MkdirAll(opts.Dir); err != nil {
			return err
		}
		return newHarvester().Harvest(cmd.Context(), opts)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $"+config.PathEnv+" or "+config.DefaultPath+")")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "more output")
	rootCmd.PersistentFlags().StringVarP(&dir, "dir", "d", ".", "harvest directory")

	rootCmd.Flags().StringArrayVarP(&prefixes, "prefix", "p", nil, "metadata prefix to harvest, repeatable (default from config, oai_dc)")
	rootCmd.Flags().StringArrayVarP(&sets, "set", "s", nil, "set to harvest, repeatable (default whole repository)")
	rootCmd.Flags().StringVarP(&from, "from", "f", "", "harvest records changed on or after, YYYY-MM-DD or YYYY-MM-DDThh:mm:ssZ")
	rootCmd.Flags().StringVarP(&until, "until", "u", "", "harvest records changed on or before, YYYY-MM-DD or YYYY-MM-DDThh:mm:ssZ")
}

// setup loads the configuration and sets the log level.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if cfg, err = config.Load(configPath); err != nil {
		return err
	}
	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	return logging.SetLogLevel("*", level)
}

func newHarvester() *harvest.Harvester {
	h := harvest.New(cfg.Client(), status.Store{}, sink.FileSink{})
	h.DefaultPrefix = cfg.DefaultPrefix
	return h
}

func boundary(s string) (*oai.TimeBoundary, error) {
	if s == "" {
		return nil, nil
	}
	b, err := oai.ParseTimeBoundary(s)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func destination() (string, error) {
	return homedir.Expand(dir)
}

// exitCode maps errors to the process status. Operational misuse, like
// updating an incomplete harvest, is reported but not a failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, status.ErrNoStatus), errors.Is(err, harvest.ErrHarvestIncomplete):
		log.Warn(err)
		return 0
	case errors.Is(err, context.Canceled):
		log.Warnf("interrupted, the harvest can be resumed: %v", err)
		return 130
	}
	log.Error(err)
	return 1
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}
