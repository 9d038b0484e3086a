package scoring

import (
	"context"
	"runtime"
	"sync"
	"time"
)

const (
	minWorkers = 2
	maxWorkers = 12
)

// Timed pairs a scan result with how long it took.
type Timed struct {
	Result
	Elapsed time.Duration
}

// DetermineWorkerCount sizes a worker pool from the CPU count.
func DetermineWorkerCount() int {
	return min(max(runtime.NumCPU(), minWorkers), maxWorkers)
}

// ScanAll fans domains out to workers sharing scanner. Results arrive in
// completion order. The returned channel closes once domains is drained or
// ctx is cancelled.
func ScanAll(ctx context.Context, scanner *Scanner, domains <-chan string, workers int) <-chan Timed {
	if workers <= 0 {
		workers = DetermineWorkerCount()
	}
	out := make(chan Timed, workers*4)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				var domain string
				var ok bool
				select {
				case <-ctx.Done():
					return
				case domain, ok = <-domains:
					if !ok {
						return
					}
				}
				start := time.Now()
				res := scanner.Scan(domain)
				select {
				case out <- Timed{Result: res, Elapsed: time.Since(start)}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
