package dynamo

import (
	"runtime"
	"sync"
)

// Batch is a half-open index range [Start, End).
type Batch struct {
	Start, End int
}

func (b Batch) Len() int { return b.End - b.Start }

// Batches splits [0, n) into at most k contiguous batches of near-equal size.
func Batches(n, k int) []Batch {
	if n <= 0 {
		return nil
	}
	if k <= 0 {
		k = runtime.GOMAXPROCS(0)
	}
	if k > n {
		k = n
	}
	size := (n + k - 1) / k
	out := make([]Batch, 0, k)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, Batch{Start: start, End: end})
	}
	return out
}

// ParallelFor executes fn over [0, n) split into chunks of at least minChunk.
func ParallelFor(n, minChunk int, fn func(start, end int)) {
	numWorkers := runtime.GOMAXPROCS(0)
	if n <= minChunk || numWorkers <= 1 {
		fn(0, n)
		return
	}

	workers := numWorkers
	if minChunk > 0 && n/minChunk < workers {
		workers = n / minChunk
	}
	if workers < 1 {
		workers = 1
	}

	batches := Batches(n, workers)

	var wg sync.WaitGroup
	wg.Add(len(batches))
	for _, b := range batches {
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(b.Start, b.End)
	}

	wg.Wait()
}
