package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

// StressTestConfig holds configuration for the stress test.
type StressTestConfig struct {
	BaseURL      string
	Concurrency  int
	RequestCount int64
	Duration     time.Duration
	AuthToken    string
	Sender       string
	Recipient    string
	ReportFile   string
}

// StressTestResult holds the results of a stress test.
type StressTestResult struct {
	TotalRequests  int64
	SuccessfulReqs int64
	PoolFull       int64
	FailedReqs     int64
	TotalDuration  time.Duration
	AvgLatency     time.Duration
	MinLatency     time.Duration
	MaxLatency     time.Duration
	RequestsPerSec float64
}

type counters struct {
	total      int64
	success    int64
	poolFull   int64
	failed     int64
	latencySum int64
	minLatency int64
	maxLatency int64
}

func (c *counters) observe(lat time.Duration) {
	l := int64(lat)
	atomic.AddInt64(&c.latencySum, l)
	for {
		old := atomic.LoadInt64(&c.minLatency)
		if l >= old || atomic.CompareAndSwapInt64(&c.minLatency, old, l) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&c.maxLatency)
		if l <= old || atomic.CompareAndSwapInt64(&c.maxLatency, old, l) {
			break
		}
	}
}

var errPoolFull = errors.New("transaction pool full")

func main() {
	config := parseFlags()

	client := &http.Client{Timeout: 10 * time.Second}
	parties, err := resolveParties(client, config)
	if err != nil {
		log.Fatalf("Failed to resolve transaction parties: %v", err)
	}

	fmt.Println("=== Consortium Ledger Transaction Stress Test ===")
	fmt.Printf("Target:      %s\n", config.BaseURL)
	fmt.Printf("Concurrency: %d workers\n", config.Concurrency)
	fmt.Printf("Duration:    %v\n", config.Duration)
	fmt.Printf("Parties:     %d addresses\n", len(parties))
	fmt.Println()

	result := runStressTest(client, config, parties)

	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() StressTestConfig {
	config := StressTestConfig{}

	flag.StringVar(&config.BaseURL, "addr", "http://127.0.0.1:5000", "Node HTTP API base URL")
	flag.IntVar(&config.Concurrency, "c", 10, "Number of concurrent workers")
	flag.Int64Var(&config.RequestCount, "n", 0, "Total number of requests (0 = unlimited, use -d instead)")
	flag.DurationVar(&config.Duration, "d", 30*time.Second, "Duration of test")
	flag.StringVar(&config.AuthToken, "token", os.Getenv("CONSORTIUM_AUTH_TOKEN"), "Authentication token")
	flag.StringVar(&config.Sender, "sender", "", "Fixed sender address (default: random member)")
	flag.StringVar(&config.Recipient, "recipient", "", "Fixed recipient address (default: random member)")
	flag.StringVar(&config.ReportFile, "o", "", "Output report file (JSON)")

	flag.Parse()

	return config
}

// resolveParties returns the fixed sender and recipient, or the node's
// member addresses when either is unset.
func resolveParties(client *http.Client, config StressTestConfig) ([]string, error) {
	if config.Sender != "" && config.Recipient != "" {
		return []string{config.Sender, config.Recipient}, nil
	}
	req, err := http.NewRequest(http.MethodGet, config.BaseURL+"/membership/addresses", nil)
	if err != nil {
		return nil, err
	}
	authorize(req, config.AuthToken)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env struct {
		Data  []string `json:"data"`
		Error string   `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, err
	}
	if env.Error != "" {
		return nil, errors.New(env.Error)
	}
	if len(env.Data) == 0 {
		return nil, errors.New("node has no members; pass -sender and -recipient")
	}
	return env.Data, nil
}

func authorize(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func runStressTest(client *http.Client, config StressTestConfig, parties []string) StressTestResult {
	c := &counters{minLatency: 1<<63 - 1}

	ctx, cancel := context.WithTimeout(context.Background(), config.Duration)
	defer cancel()

	startTime := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	var seq int64
	for i := 0; i < config.Concurrency; i++ {
		workerID := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			for ctx.Err() == nil {
				if config.RequestCount > 0 && atomic.AddInt64(&seq, 1) > config.RequestCount {
					return nil
				}
				sender, recipient := pick(rng, parties, config)
				latency, err := sendTransaction(ctx, client, config, sender, recipient, rng.Int63n(1000)+1)
				if ctx.Err() != nil {
					return nil
				}
				atomic.AddInt64(&c.total, 1)
				switch {
				case err == nil:
					atomic.AddInt64(&c.success, 1)
					c.observe(latency)
				case errors.Is(err, errPoolFull):
					atomic.AddInt64(&c.poolFull, 1)
					time.Sleep(10 * time.Millisecond)
				default:
					atomic.AddInt64(&c.failed, 1)
					time.Sleep(10 * time.Millisecond)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	duration := time.Since(startTime)
	result := StressTestResult{
		TotalRequests:  atomic.LoadInt64(&c.total),
		SuccessfulReqs: atomic.LoadInt64(&c.success),
		PoolFull:       atomic.LoadInt64(&c.poolFull),
		FailedReqs:     atomic.LoadInt64(&c.failed),
		TotalDuration:  duration,
		MaxLatency:     time.Duration(atomic.LoadInt64(&c.maxLatency)),
		RequestsPerSec: float64(atomic.LoadInt64(&c.total)) / duration.Seconds(),
	}
	if result.SuccessfulReqs > 0 {
		result.AvgLatency = time.Duration(atomic.LoadInt64(&c.latencySum) / result.SuccessfulReqs)
		result.MinLatency = time.Duration(atomic.LoadInt64(&c.minLatency))
	}
	return result
}

func pick(rng *rand.Rand, parties []string, config StressTestConfig) (string, string) {
	sender, recipient := config.Sender, config.Recipient
	if sender == "" {
		sender = parties[rng.Intn(len(parties))]
	}
	if recipient == "" {
		recipient = parties[rng.Intn(len(parties))]
	}
	return sender, recipient
}

func sendTransaction(ctx context.Context, client *http.Client, config StressTestConfig, sender, recipient string, amount int64) (time.Duration, error) {
	body, err := json.Marshal(map[string]interface{}{
		"sender":    sender,
		"recipient": recipient,
		"amount":    amount,
	})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.BaseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	authorize(req, config.AuthToken)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	latency := time.Since(start)

	switch resp.StatusCode {
	case http.StatusCreated:
		return latency, nil
	case http.StatusServiceUnavailable:
		return latency, errPoolFull
	default:
		return latency, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func printResults(result StressTestResult) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:        %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Requests:  %d\n", result.TotalRequests)
	fmt.Printf("Accepted:        %d (%.2f%%)\n", result.SuccessfulReqs, percent(result.SuccessfulReqs, result.TotalRequests))
	fmt.Printf("Pool Full:       %d (%.2f%%)\n", result.PoolFull, percent(result.PoolFull, result.TotalRequests))
	fmt.Printf("Failed:          %d (%.2f%%)\n", result.FailedReqs, percent(result.FailedReqs, result.TotalRequests))
	fmt.Printf("Requests/sec:    %.2f\n", result.RequestsPerSec)
	fmt.Printf("Avg Latency:     %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:     %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:     %v\n", result.MaxLatency.Round(time.Microsecond))
}

func saveReport(config StressTestConfig, result StressTestResult) {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"base_url":    config.BaseURL,
			"concurrency": config.Concurrency,
			"duration":    config.Duration.String(),
			"requests":    config.RequestCount,
		},
		"results": map[string]interface{}{
			"total_requests":   result.TotalRequests,
			"accepted":         result.SuccessfulReqs,
			"pool_full":        result.PoolFull,
			"failed":           result.FailedReqs,
			"requests_per_sec": result.RequestsPerSec,
			"avg_latency_ms":   float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":   float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":   float64(result.MaxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
