// Package commands implements the sketchy CLI commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jcalabro/sketchy/internal/config"
	"github.com/jcalabro/sketchy/internal/logger"
	"github.com/jcalabro/sketchy/internal/store"
)

// app holds state shared by every command of one invocation.
type app struct {
	viper      *viper.Viper
	configPath string
	verbose    bool

	cfg *config.Config
	log *zap.Logger
}

// NewRootCommand creates the sketchy root command with every subcommand
// attached.
func NewRootCommand() *cobra.Command {
	a := &app{viper: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "sketchy",
		Short: "Probabilistic sketches for counting, distinct counting and membership",
		Long: `Sketchy builds small probabilistic summaries of newline-delimited input.

Commands:
  count     Approximate item count with Morris counters
  distinct  Approximate distinct count with HyperLogLog
  filter    Scalable Bloom filter membership
  merge     Merge stored sketches of the same kind
  info      Describe a stored sketch
  list      List stored sketches`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default: ./sketchy.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.String("store", "", "sketch store path")
	flags.String("hash", "", "hash family: xxh3, xxhash64 or murmur3")
	a.bind("store.path", flags.Lookup("store"))
	a.bind("hash", flags.Lookup("hash"))

	rootCmd.AddCommand(
		newCountCommand(a),
		newDistinctCommand(a),
		newFilterCommand(a),
		newMergeCommand(a),
		newInfoCommand(a),
		newListCommand(a),
		newDeleteCommand(a),
		newVersionCommand(),
	)

	return rootCmd
}

// bind makes flag override the configuration key when it is set.
func (a *app) bind(key string, flag *pflag.Flag) {
	// BindPFlag only fails on a nil flag.
	if err := a.viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag for %s: %v", key, err))
	}
}

// setup loads configuration and installs the logger before any command runs.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadWith(a.viper, a.configPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(cmd.ErrOrStderr(), cfg.Logging)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}

	a.cfg = cfg
	a.log = log

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logger.NewContextWithLogger(ctx, log))

	log.Debug("configuration loaded",
		zap.String("config", a.viper.ConfigFileUsed()),
		zap.String("store", cfg.Store.Path),
		zap.String("hash", cfg.Hash),
	)
	return nil
}

// openStore opens the configured sketch store.
func (a *app) openStore() (*store.Store, error) {
	return store.Open(a.cfg.Store.Path)
}

// input returns a reader over the named files, or stdin when there are none.
func input(cmd *cobra.Command, files []string) (io.ReadCloser, error) {
	if len(files) == 0 {
		return io.NopCloser(cmd.InOrStdin()), nil
	}

	readers := make([]io.Reader, 0, len(files))
	closers := make(multiCloser, 0, len(files))
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			_ = closers.Close()
			return nil, err
		}
		// A newline between files keeps an unterminated last line from
		// joining the next file's first line.
		readers = append(readers, f, strings.NewReader("\n"))
		closers = append(closers, f)
	}

	return struct {
		io.Reader
		io.Closer
	}{io.MultiReader(readers...), closers}, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
