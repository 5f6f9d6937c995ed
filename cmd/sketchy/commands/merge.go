package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jcalabro/sketchy"
	"github.com/jcalabro/sketchy/internal/store"
)

func newMergeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "merge DEST SRC...",
		Short: "Merge stored sketches of the same kind into DEST",
		Long: `Merge combines the sketches stored under each SRC and stores the result
under DEST. All sources must be the same kind and share a configuration.
DEST may also be one of the sources.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMerge(cmd, args[0], args[1:])
		},
	}
}

func (a *app) runMerge(cmd *cobra.Command, dest string, sources []string) error {
	s, err := a.openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	first, err := s.Load(sources[0])
	if err != nil {
		return err
	}

	for _, name := range sources[1:] {
		next, err := s.Load(name)
		if err != nil {
			return err
		}
		if err := mergeInto(first, next); err != nil {
			return fmt.Errorf("merging %s into %s: %w", name, sources[0], err)
		}
	}

	kind, err := store.KindOf(first)
	if err != nil {
		return err
	}
	if err := s.Put(dest, kind, first); err != nil {
		return err
	}

	switch v := first.(type) {
	case *sketchy.Estimator:
		fmt.Fprintf(cmd.OutOrStdout(), "%s: estimator with ~%s distinct items\n", dest, humanize.Comma(int64(v.Count())))
	case *sketchy.Filter:
		fmt.Fprintf(cmd.OutOrStdout(), "%s: filter with %s items in %d tiers\n", dest, humanize.Comma(int64(v.Count())), len(v.Tiers()))
	}
	return nil
}

// mergeInto folds src into dst. Both must be the same sketch type.
func mergeInto(dst, src store.Sketch) error {
	switch d := dst.(type) {
	case *sketchy.Estimator:
		s, ok := src.(*sketchy.Estimator)
		if !ok {
			return fmt.Errorf("%w: estimator and %T", store.ErrKindMismatch, src)
		}
		return d.Merge(s)
	case *sketchy.Filter:
		s, ok := src.(*sketchy.Filter)
		if !ok {
			return fmt.Errorf("%w: filter and %T", store.ErrKindMismatch, src)
		}
		return d.Merge(s)
	}
	return fmt.Errorf("unsupported sketch type %T", dst)
}
