package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jcalabro/sketchy"
	"github.com/jcalabro/sketchy/internal/store"
)

func newInfoCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info NAME",
		Short: "Describe a stored sketch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInfo(cmd, args[0])
		},
	}
}

func (a *app) runInfo(cmd *cobra.Command, name string) error {
	s, err := a.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	v, err := s.Load(name)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "name:\t%s\n", name)

	switch sk := v.(type) {
	case *sketchy.Estimator:
		describeEstimator(w, sk)
	case *sketchy.Filter:
		describeFilter(w, sk)
	}
	return w.Flush()
}

func describeEstimator(w io.Writer, e *sketchy.Estimator) {
	fmt.Fprintf(w, "kind:\t%s\n", store.KindEstimator)
	fmt.Fprintf(w, "hash:\t%s (seed %d)\n", e.HashFamily().Name(), e.Seed())
	fmt.Fprintf(w, "precision:\t%d (%s registers, %s)\n",
		e.Precision(), humanize.Comma(int64(e.RegisterCount())), humanize.IBytes(uint64(e.RegisterCount())))
	fmt.Fprintf(w, "estimate:\t%s\n", humanize.Comma(int64(e.Count())))
	fmt.Fprintf(w, "std error:\t%.2f%%\n", 100*e.RelativeError())
}

func describeFilter(w io.Writer, f *sketchy.Filter) {
	cfg := f.Config()
	fmt.Fprintf(w, "kind:\t%s\n", store.KindFilter)
	fmt.Fprintf(w, "hash:\t%s\n", cfg.Hash.Name())
	fmt.Fprintf(w, "capacity:\t%s\n", humanize.Comma(int64(cfg.Capacity)))
	fmt.Fprintf(w, "fp rate:\t%g (growth %g, tightening %g)\n", cfg.FalsePositiveRate, cfg.Growth, cfg.Tightening)
	fmt.Fprintf(w, "items:\t%s\n", humanize.Comma(int64(f.Count())))
	fmt.Fprintf(w, "size:\t%s\n", humanize.IBytes((f.Cap()+7)/8))
	fmt.Fprintf(w, "fill ratio:\t%.4f\n", f.EstimatedFillRatio())
	fmt.Fprintf(w, "est. fp rate:\t%.6f\n", f.EstimatedFalsePositiveRate())

	fmt.Fprintf(w, "\ntier\tcapacity\tfp rate\tsize\tk\n")
	for _, t := range f.Tiers() {
		fmt.Fprintf(w, "%d\t%s\t%.3g\t%s\t%d\n",
			t.Index, humanize.Comma(int64(t.Capacity)), t.FalsePositiveRate, humanize.IBytes((t.Bits+7)/8), t.K)
	}
}
