package sketchy_test

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/jcalabro/sketchy"
)

// This example demonstrates distinct counting with a HyperLogLog estimator.
func ExampleEstimator() {
	e, err := sketchy.NewEstimator(sketchy.DefaultPrecision)
	if err != nil {
		panic(err)
	}

	fmt.Println("empty:", e.Count())

	for _, user := range []string{"alice", "bob", "carol", "alice", "bob"} {
		e.AddString(user)
	}
	fmt.Println("distinct users:", e.Count())

	// Output:
	// empty: 0
	// distinct users: 3
}

// This example shows the fleet-level pattern: one estimator per worker,
// merged at the end.
func ExampleEstimator_Merge() {
	const workers = 4

	shards := make([]*sketchy.Estimator, workers)
	var wg sync.WaitGroup
	for w := range workers {
		shards[w], _ = sketchy.NewEstimator(12)
		wg.Add(1)
		go func(e *sketchy.Estimator, id int) {
			defer wg.Done()
			for i := range 10_000 {
				e.AddString(fmt.Sprintf("worker-%d-event-%d", id, i))
			}
		}(shards[w], w)
	}
	wg.Wait()

	total := shards[0]
	for _, s := range shards[1:] {
		if err := total.Merge(s); err != nil {
			panic(err)
		}
	}

	fmt.Printf("within 10%%: %v\n", total.Estimate() > 36_000 && total.Estimate() < 44_000)

	// Estimators with a different precision cannot be merged.
	other, _ := sketchy.NewEstimator(10)
	err := total.Merge(other)
	fmt.Println("mismatch:", errors.Is(err, sketchy.ErrConfigMismatch))

	// Output:
	// within 10%: true
	// mismatch: true
}

// This example demonstrates the scalable Bloom filter growing past its
// initial capacity.
func ExampleFilter() {
	f, err := sketchy.NewFilter(1_000, 0.01)
	if err != nil {
		panic(err)
	}

	for i := range 5_000 {
		f.AddString(fmt.Sprintf("key-%d", i))
	}

	fmt.Println("key-42:", f.ContainsString("key-42"))
	fmt.Println("key-4999:", f.ContainsString("key-4999"))
	fmt.Println("tiers:", len(f.Tiers()))

	// Output:
	// key-42: true
	// key-4999: true
	// tiers: 3
}

// This example shows that invalid parameters are rejected rather than clamped.
func ExampleNewFilter_invalid() {
	_, err := sketchy.NewFilter(0, 0.01)
	fmt.Println(errors.Is(err, sketchy.ErrInvalidConfig))

	_, err = sketchy.NewFilter(100, 1.5)
	fmt.Println(errors.Is(err, sketchy.ErrInvalidConfig))

	// Output:
	// true
	// true
}

// This example demonstrates a Morris counter with an injected random source.
func ExampleMorrisCounter() {
	m, err := sketchy.NewMorrisCounter(rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		panic(err)
	}

	fmt.Println("before:", m.Estimate())
	m.Add(nil)
	fmt.Println("after one add:", m.Estimate())

	// Output:
	// before: 1
	// after one add: 2
}

// This example persists an estimator and restores it.
func ExampleEstimator_MarshalBinary() {
	e, _ := sketchy.NewEstimator(8)
	e.AddString("persisted")

	data, err := e.MarshalBinary()
	if err != nil {
		panic(err)
	}

	var restored sketchy.Estimator
	if err := restored.UnmarshalBinary(data); err != nil {
		panic(err)
	}
	fmt.Println(len(data), restored.Count())

	// Output:
	// 267 1
}

// This example selects a different hash family by name.
func ExampleLookupHashFamily() {
	h, err := sketchy.LookupHashFamily("murmur3")
	if err != nil {
		panic(err)
	}

	e, _ := sketchy.NewEstimatorWithConfig(sketchy.EstimatorConfig{Precision: 10, Hash: h})
	e.AddString("x")
	fmt.Println(e.HashFamily().Name(), e.Count())

	// Output:
	// murmur3 1
}
