package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/commonledger/internal/logging"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	groupID     int64
	firstPerson int64
	people      int
	amount      string
)

// Metrics
var (
	totalRequests uint64
	successReplay uint64 // Idempotent replays
	success201    uint64 // Created
	fail409       uint64 // Conflicts (Aborts)
	fail422       uint64 // Rejected (credit limit, validation)
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot | replay")
	flag.Int64Var(&groupID, "group", 1, "Group the seeded members belong to")
	flag.Int64Var(&firstPerson, "first-person", 1, "Lowest seeded person id")
	flag.IntVar(&people, "people", 1000, "Number of seeded members")
	flag.StringVar(&amount, "amount", "1.00", "Amount per exchange")
}

func main() {
	flag.Parse()
	logging.Setup(os.Getenv("ENVIRONMENT"), os.Getenv("LOG_LEVEL"))
	slog.Info("starting benchmark", "workload", workload, "workers", concurrency, "duration", duration)

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	start := time.Now()
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		eg.Go(func() error {
			worker(ctx)
			return nil
		})
	}
	eg.Wait()
	printResults(time.Since(start))
}

func worker(ctx context.Context) {
	client := &http.Client{Timeout: 5 * time.Second}
	// Reused by the replay workload to measure the idempotent path.
	replayKey := uuid.NewString()

	for ctx.Err() == nil {
		from, to := generatePeople()

		key := uuid.NewString()
		if workload == "replay" {
			from, to = firstPerson, firstPerson+1
			key = replayKey
		}

		payload := map[string]any{
			"kind":        "Exchange",
			"customer_id": from,
			"worker_id":   to,
			"group_id":    groupID,
			"amount":      amount,
			"notes":       "benchmark",
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequestWithContext(ctx, "POST", targetURL+"/api/v1/exchanges", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", key)
		req.Header.Set("X-Person-ID", strconv.FormatInt(from, 10))

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				atomic.AddUint64(&failOther, 1)
			}
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.Header.Get("Idempotent-Replayed") == "true":
			atomic.AddUint64(&successReplay, 1)
		case resp.StatusCode == http.StatusCreated:
			atomic.AddUint64(&success201, 1)
		case resp.StatusCode == http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case resp.StatusCode == http.StatusUnprocessableEntity:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func generatePeople() (int64, int64) {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes between the first two members
		if rand.Float32() < 0.90 {
			if rand.Float32() < 0.5 {
				return firstPerson, firstPerson + 1
			}
			return firstPerson + 1, firstPerson
		}
	}

	// Uniform Random
	a := rand.Intn(people)
	b := rand.Intn(people)
	for a == b {
		b = rand.Intn(people)
	}
	return firstPerson + int64(a), firstPerson + int64(b)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	sReplay := atomic.LoadUint64(&successReplay)
	f409 := atomic.LoadUint64(&fail409)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var abortRate float64
	if total > 0 {
		abortRate = float64(f409) / float64(total) * 100
	}

	results := map[string]any{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  tps,
		"success_created": s201,
		"success_replay":  sReplay,
		"aborts_conflict": f409,
		"rejected":        f422,
		"abort_rate_pct":  abortRate,
		"errors":          fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		slog.Error("unable to save results", "file", filename, "error", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
