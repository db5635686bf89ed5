package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"newsletter/client"
	v1 "newsletter/pkg/api/v1"

	"github.com/google/uuid"
)

// Configuration
var (
	targetURL  = flag.String("url", "http://localhost:8080", "Server base URL")
	token      = flag.String("token", "", "Bearer token (see `newsletter token`)")
	keys       = flag.Int("keys", 20, "Distinct idempotency keys")
	duplicates = flag.Int("dup", 10, "Concurrent submissions per key")
	timeout    = flag.Duration("timeout", 2*time.Minute, "Overall deadline")
)

// Metrics
var (
	accepted     int64
	failed       int64
	latencySum   int64 // milliseconds
	latencyCount int64
)

func main() {
	flag.Parse()

	fmt.Printf("Starting duplicate submission test\n")
	fmt.Printf("   Target: %s\n", *targetURL)
	fmt.Printf("   Keys: %d x %d concurrent submissions\n", *keys, *duplicates)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	c := client.NewClient(*targetURL, *token, client.WithRetry(10, 200*time.Millisecond, 2*time.Second))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]map[string]struct{}, *keys)
	)

	runID := uuid.NewString()[:8]
	for k := 0; k < *keys; k++ {
		key := fmt.Sprintf("loadtest-%s-%d", runID, k)
		mu.Lock()
		seen[key] = make(map[string]struct{})
		mu.Unlock()
		req := v1.PublishIssueRequest{
			Title:          fmt.Sprintf("Load test issue %d", k),
			ContentText:    "load test",
			ContentHTML:    "<p>load test</p>",
			IdempotencyKey: key,
		}

		for d := 0; d < *duplicates; d++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				start := time.Now()
				res, err := c.PublishIssue(ctx, req)
				if err != nil {
					if atomic.AddInt64(&failed, 1) == 1 {
						fmt.Printf("Error publishing: %v\n", err)
					}
					return
				}
				atomic.AddInt64(&accepted, 1)
				atomic.AddInt64(&latencySum, time.Since(start).Milliseconds())
				atomic.AddInt64(&latencyCount, 1)

				mu.Lock()
				seen[key][res.IssueID] = struct{}{}
				mu.Unlock()
			}()
		}
	}
	wg.Wait()

	avgLat := float64(0)
	if n := atomic.LoadInt64(&latencyCount); n > 0 {
		avgLat = float64(atomic.LoadInt64(&latencySum)) / float64(n)
	}
	fmt.Printf("Accepted: %d | Errors: %d | Avg Latency: %.2f ms\n", accepted, failed, avgLat)

	violations := 0
	for key, ids := range seen {
		if len(ids) > 1 {
			violations++
			fmt.Printf("key %s produced %d distinct issues\n", key, len(ids))
		}
	}
	if violations > 0 {
		fmt.Printf("FAIL: %d keys published more than once\n", violations)
		os.Exit(1)
	}
	fmt.Println("OK: every key produced at most one issue")
}
