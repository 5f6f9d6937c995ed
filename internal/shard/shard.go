// Package shard builds one sketch from a stream of newline-delimited items
// by fanning the items out to per-shard goroutines and merging the results.
//
// Each shard owns its sketch exclusively, so no locking is needed. Items are
// routed by hash, so a given item always lands on the same shard.
package shard

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jcalabro/sketchy"
	"github.com/jcalabro/sketchy/internal/logger"
)

// ErrInvalidShards is returned when the shard count is not positive.
var ErrInvalidShards = errors.New("shard count must be positive")

const (
	// routingSeed keeps shard routing independent of the seeds sketches
	// use for their own hashing.
	routingSeed = 0x9e3779b97f4a7c15

	batchSize  = 256
	queueDepth = 4

	maxLineSize = 1 << 20
)

// Sketch is a mergeable sketch fed with raw items.
type Sketch[S any] interface {
	Add(data []byte)
	Merge(other S) error
}

// Index returns the shard data is routed to among n shards.
func Index(data []byte, n int) int {
	return int(sketchy.XXH3.Sum64(data, routingSeed) % uint64(n))
}

// Run reads items from r, one per line, and adds each to one of n sketches
// created by newSketch. Once r is exhausted the sketches are merged in shard
// order and the merged sketch is returned. Lines are read as by ForEach.
//
// Cancelling ctx stops reading and returns the context error.
func Run[S Sketch[S]](ctx context.Context, r io.Reader, n int, newSketch func() (S, error)) (S, error) {
	var zero S
	if n <= 0 {
		return zero, fmt.Errorf("%w: %d", ErrInvalidShards, n)
	}

	sketches := make([]S, n)
	for i := range sketches {
		s, err := newSketch()
		if err != nil {
			return zero, fmt.Errorf("creating shard %d: %w", i, err)
		}
		sketches[i] = s
	}

	g, gctx := errgroup.WithContext(ctx)

	queues := make([]chan [][]byte, n)
	for i := range queues {
		queue := make(chan [][]byte, queueDepth)
		queues[i] = queue
		s := sketches[i]
		g.Go(func() error {
			for batch := range queue {
				for _, item := range batch {
					s.Add(item)
				}
			}
			return nil
		})
	}

	var items int64
	g.Go(func() error {
		defer func() {
			for _, queue := range queues {
				close(queue)
			}
		}()

		var err error
		items, err = scatter(gctx, r, queues)
		return err
	})

	if err := g.Wait(); err != nil {
		return zero, err
	}

	merged := sketches[0]
	for i, s := range sketches[1:] {
		if err := merged.Merge(s); err != nil {
			return zero, fmt.Errorf("merging shard %d: %w", i+1, err)
		}
	}

	logger.FromContext(ctx).Debug("sharded build complete",
		zap.Int("shards", n),
		zap.Int64("items", items),
	)

	return merged, nil
}

// ForEach calls fn for every item in r, one per line. Empty lines are
// skipped and a trailing carriage return is stripped. The slice passed to
// fn is only valid until fn returns. An error from fn stops the scan and
// is returned unchanged.
func ForEach(r io.Reader, fn func(item []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSuffix(scanner.Bytes(), []byte{'\r'})
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

// scatter reads items from r and sends them to their shard's queue in
// batches. It returns the number of items routed.
func scatter(ctx context.Context, r io.Reader, queues []chan [][]byte) (int64, error) {
	n := len(queues)
	pending := make([][][]byte, n)

	send := func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case queues[i] <- pending[i]:
			pending[i] = nil
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var items int64
	err := ForEach(r, func(line []byte) error {
		item := bytes.Clone(line)
		i := Index(item, n)
		pending[i] = append(pending[i], item)
		items++

		if len(pending[i]) == batchSize {
			return send(i)
		}
		return nil
	})
	if err != nil {
		return items, err
	}

	for i := range pending {
		if len(pending[i]) == 0 {
			continue
		}
		if err := send(i); err != nil {
			return items, err
		}
	}
	return items, nil
}
