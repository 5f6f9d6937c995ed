package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jcalabro/sketchy"
	"github.com/jcalabro/sketchy/internal/shard"
	"github.com/jcalabro/sketchy/internal/store"
)

func newFilterCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Build and query scalable Bloom filters",
	}

	cmd.AddCommand(newFilterAddCommand(a), newFilterQueryCommand(a))
	return cmd
}

func newFilterAddCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add NAME [file...]",
		Short: "Add input lines to the named filter, creating it if needed",
		Long: `Add inserts every input line into the filter stored under NAME. A new
filter is created from the configured capacity and false positive rate
when none exists; it grows by adding tiers as items arrive.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFilterAdd(cmd, args[0], args[1:])
		},
	}

	cmd.Flags().Uint64("capacity", 0, "items the first tier is sized for")
	cmd.Flags().Float64("fp-rate", 0, "compound false positive rate ceiling")
	a.bind("filter.capacity", cmd.Flags().Lookup("capacity"))
	a.bind("filter.fp_rate", cmd.Flags().Lookup("fp-rate"))

	return cmd
}

func (a *app) runFilterAdd(cmd *cobra.Command, name string, files []string) error {
	f, err := a.loadOrCreateFilter(name)
	if err != nil {
		return err
	}

	in, err := input(cmd, files)
	if err != nil {
		return err
	}
	defer in.Close()

	var added, skipped uint64
	err = shard.ForEach(in, func(item []byte) error {
		if f.TestAndAdd(item) {
			skipped++
		} else {
			added++
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := a.save(name, f); err != nil {
		return err
	}

	a.log.Debug("filter updated",
		zap.String("name", name),
		zap.Uint64("added", added),
		zap.Uint64("skipped", skipped),
		zap.Int("tiers", len(f.Tiers())),
	)

	fmt.Fprintf(cmd.OutOrStdout(), "%s: added %d, already present %d, %d tiers\n",
		name, added, skipped, len(f.Tiers()))
	return nil
}

// loadOrCreateFilter returns the filter stored under name, or a new one
// built from the configuration when the store has none.
func (a *app) loadOrCreateFilter(name string) (*sketchy.Filter, error) {
	f, err := a.loadFilter(name)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	cfg, err := a.cfg.FilterConfig()
	if err != nil {
		return nil, err
	}
	a.log.Debug("creating filter",
		zap.String("name", name),
		zap.Uint64("capacity", cfg.Capacity),
		zap.Float64("fp_rate", cfg.FalsePositiveRate),
	)
	return sketchy.NewFilterWithConfig(cfg)
}

func (a *app) loadFilter(name string) (*sketchy.Filter, error) {
	s, err := a.openStore()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var f sketchy.Filter
	kind, err := s.Get(name, &f)
	if err != nil {
		return nil, err
	}
	if kind != store.KindFilter {
		return nil, fmt.Errorf("%w: %s is a %s", store.ErrKindMismatch, name, kind)
	}
	return &f, nil
}

type filterQueryOptions struct {
	present bool
}

func newFilterQueryCommand(a *app) *cobra.Command {
	opts := &filterQueryOptions{}

	cmd := &cobra.Command{
		Use:   "query NAME [file...]",
		Short: "Report which input lines may be in the named filter",
		Long: `Query prints every input line followed by "maybe" when the filter may
contain it or "no" when it definitely does not.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runFilterQuery(cmd, args[0], args[1:], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.present, "present", false, "print only lines the filter may contain")

	return cmd
}

func (a *app) runFilterQuery(cmd *cobra.Command, name string, files []string, opts *filterQueryOptions) error {
	f, err := a.loadFilter(name)
	if err != nil {
		return err
	}

	in, err := input(cmd, files)
	if err != nil {
		return err
	}
	defer in.Close()

	out := cmd.OutOrStdout()
	return shard.ForEach(in, func(item []byte) error {
		hit := f.Contains(item)
		switch {
		case opts.present && hit:
			_, err := fmt.Fprintf(out, "%s\n", item)
			return err
		case opts.present:
			return nil
		case hit:
			_, err := fmt.Fprintf(out, "%s\tmaybe\n", item)
			return err
		default:
			_, err := fmt.Fprintf(out, "%s\tno\n", item)
			return err
		}
	})
}
