package commands

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jcalabro/sketchy"
	"github.com/jcalabro/sketchy/internal/shard"
)

func newCountCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count [file...]",
		Short: "Approximate the number of input lines with Morris counters",
		Long: `Count feeds every input line to a set of independent Morris counters and
prints the averaged estimate. Each counter uses a single byte of state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCount(cmd, args)
		},
	}

	cmd.Flags().Int("counters", 0, "number of averaged Morris counters")
	cmd.Flags().Uint64("seed", 0, "random seed (0 picks one at random)")
	a.bind("morris.counters", cmd.Flags().Lookup("counters"))
	a.bind("morris.seed", cmd.Flags().Lookup("seed"))

	return cmd
}

func (a *app) runCount(cmd *cobra.Command, args []string) error {
	in, err := input(cmd, args)
	if err != nil {
		return err
	}
	defer in.Close()

	seed := a.cfg.Morris.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	src := rand.New(rand.NewPCG(seed, seed^0x6a09e667f3bcc908))

	mm, err := sketchy.NewMultiMorris(a.cfg.Morris.Counters, src)
	if err != nil {
		return err
	}

	var lines uint64
	err = shard.ForEach(in, func(item []byte) error {
		mm.Add(item)
		lines++
		return nil
	})
	if err != nil {
		return err
	}

	a.log.Debug("morris count complete",
		zap.Int("counters", a.cfg.Morris.Counters),
		zap.Uint64("seed", seed),
		zap.Uint64("exact", lines),
	)

	fmt.Fprintln(cmd.OutOrStdout(), humanize.Comma(int64(math.Round(mm.Estimate()))))
	return nil
}
