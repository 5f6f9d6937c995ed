package commands

import (
	"encoding"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jcalabro/sketchy"
	"github.com/jcalabro/sketchy/internal/shard"
	"github.com/jcalabro/sketchy/internal/store"
)

type distinctOptions struct {
	save string
}

func newDistinctCommand(a *app) *cobra.Command {
	opts := &distinctOptions{}

	cmd := &cobra.Command{
		Use:   "distinct [file...]",
		Short: "Approximate the number of distinct input lines with HyperLogLog",
		Long: `Distinct estimates how many different lines the input holds. Lines are
spread over several shards, each building its own estimator, and the
shards are merged at the end. The result is identical for any shard count.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDistinct(cmd, args, opts)
		},
	}

	cmd.Flags().Uint8P("precision", "p", 0, "register index bits (4-18)")
	cmd.Flags().IntP("shards", "s", 0, "number of parallel shards")
	cmd.Flags().StringVar(&opts.save, "save", "", "store the estimator under this name")
	a.bind("estimator.precision", cmd.Flags().Lookup("precision"))
	a.bind("shards", cmd.Flags().Lookup("shards"))

	return cmd
}

func (a *app) runDistinct(cmd *cobra.Command, args []string, opts *distinctOptions) error {
	cfg, err := a.cfg.EstimatorConfig()
	if err != nil {
		return err
	}

	in, err := input(cmd, args)
	if err != nil {
		return err
	}
	defer in.Close()

	est, err := shard.Run(cmd.Context(), in, a.cfg.Shards, func() (*sketchy.Estimator, error) {
		return sketchy.NewEstimatorWithConfig(cfg)
	})
	if err != nil {
		return err
	}

	if opts.save != "" {
		if err := a.save(opts.save, est); err != nil {
			return err
		}
	}

	a.log.Debug("distinct count complete",
		zap.Uint8("precision", est.Precision()),
		zap.Int("shards", a.cfg.Shards),
		zap.Float64("estimate", est.Estimate()),
	)

	fmt.Fprintf(cmd.OutOrStdout(), "%s (±%.2f%%)\n",
		humanize.Comma(int64(est.Count())), 100*est.RelativeError())
	return nil
}

// save stores a sketch under name in the configured store.
func (a *app) save(name string, v encoding.BinaryMarshaler) error {
	kind, err := store.KindOf(v)
	if err != nil {
		return err
	}

	s, err := a.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Put(name, kind, v); err != nil {
		return err
	}

	a.log.Info("sketch saved", zap.String("name", name), zap.Stringer("kind", kind))
	return nil
}
