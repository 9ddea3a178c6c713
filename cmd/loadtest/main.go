// Command loadtest drives POST /api/extract with a rotating set of clinical
// notes and reports throughput, latency percentiles and cache hits.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olekukonko/tablewriter"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Provider    string
	Prompt      string
	Notes       []string
}

type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	cacheHits     atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, cached bool, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
		if cached {
			s.cacheHits.Add(1)
		}
	} else {
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8000", "base URL of the annotator service")
	concurrency := flag.Int("concurrency", 4, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	provider := flag.String("provider", "", "provider to request; empty uses the service default")
	flag.Parse()

	notes := []string{
		"Pt takes aspirin 81 mg PO daily and metoprolol 25 mg BID.",
		"72M with HTN and DM2 presents after a fall. Denies LOC.",
		"On apixaban 5 mg BID for AF. CT head shows a 4 mm left SDH.",
		"Plan: hold apixaban, repeat CT in 6 hours, neuro checks q1h.",
		"Allergies: penicillin (rash), sulfa (hives). No known food allergies.",
		"Discharged on amlodipine 10 mg daily and insulin glargine 20 units qHS.",
		"History of gout, CKD stage 3 and obstructive sleep apnea on CPAP.",
		"Labs: Na 134, K 5.1, Cr 1.8, Hgb 10.2. Started on IV fluids.",
	}

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Provider:    *provider,
		Prompt:      "Extract medications with dose and frequency, and conditions.",
		Notes:       notes,
	}

	fmt.Println("=== Extraction Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Notes:       %d unique\n", len(cfg.Notes))
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg.Duration)
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 2 * time.Minute,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			noteIdx := workerID

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				note := cfg.Notes[noteIdx%len(cfg.Notes)]
				noteIdx++

				start := time.Now()
				resp, err := client.Do(mustNewRequest(ctx, cfg, note))
				duration := time.Since(start)

				if err != nil {
					if ctx.Err() == nil {
						stats.RecordRequest(duration, 0, false, err)
					}
					continue
				}
				var body struct {
					Stats struct {
						Cached bool `json:"cached"`
					} `json:"stats"`
				}
				json.NewDecoder(resp.Body).Decode(&body)
				resp.Body.Close()

				stats.RecordRequest(duration, resp.StatusCode, body.Stats.Cached, nil)
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func mustNewRequest(ctx context.Context, cfg Config, note string) *http.Request {
	payload, err := json.Marshal(map[string]string{
		"text":     note,
		"prompt":   cfg.Prompt,
		"provider": cfg.Provider,
	})
	if err != nil {
		panic(fmt.Sprintf("encoding request: %v", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/extract", bytes.NewReader(payload))
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	success := stats.successCount.Load()
	failed := stats.errorCount.Load()

	summary := tablewriter.NewWriter(os.Stdout)
	summary.Header("metric", "value")
	summary.Append("requests", strconv.FormatInt(total, 10))
	summary.Append("successful", strconv.FormatInt(success, 10))
	summary.Append("errors", strconv.FormatInt(failed, 10))
	if total > 0 {
		summary.Append("error rate", fmt.Sprintf("%.2f%%", float64(failed)/float64(total)*100))
		summary.Append("requests/sec", fmt.Sprintf("%.2f", float64(total)/duration.Seconds()))
	}
	if success > 0 {
		hits := stats.cacheHits.Load()
		summary.Append("cache hits", fmt.Sprintf("%d (%.1f%%)", hits, float64(hits)/float64(success)*100))
	}
	summary.Render()

	if lat := stats.sortedLatencies(); len(lat) > 0 {
		fmt.Println()
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("min", "avg", "p50", "p90", "p95", "p99", "max", "stddev")
		avg, stddev := meanStddev(lat)
		table.Append(
			lat[0].String(), avg.String(),
			percentile(lat, 50).String(), percentile(lat, 90).String(),
			percentile(lat, 95).String(), percentile(lat, 99).String(),
			lat[len(lat)-1].String(), stddev.String(),
		)
		table.Render()
	}

	fmt.Println()
	codes := tablewriter.NewWriter(os.Stdout)
	codes.Header("status", "count")
	for _, sc := range stats.codeCounts() {
		codes.Append(strconv.Itoa(sc.code), strconv.FormatInt(sc.count, 10))
	}
	codes.Render()

	if total == 0 {
		fmt.Fprintln(os.Stderr, "no requests completed; is the annotator running?")
		os.Exit(1)
	}
}

func (s *Stats) sortedLatencies() []time.Duration {
	s.latenciesMu.Lock()
	out := slices.Clone(s.latencies)
	s.latenciesMu.Unlock()
	slices.Sort(out)
	return out
}

type codeCount struct {
	code  int
	count int64
}

func (s *Stats) codeCounts() []codeCount {
	s.statusCodesMu.Lock()
	defer s.statusCodesMu.Unlock()
	out := make([]codeCount, 0, len(s.statusCodes))
	for code, n := range s.statusCodes {
		out = append(out, codeCount{code, n.Load()})
	}
	slices.SortFunc(out, func(a, b codeCount) int { return a.code - b.code })
	return out
}

func meanStddev(lat []time.Duration) (time.Duration, time.Duration) {
	var sum float64
	for _, l := range lat {
		sum += float64(l)
	}
	mean := sum / float64(len(lat))
	var sq float64
	for _, l := range lat {
		d := float64(l) - mean
		sq += d * d
	}
	return time.Duration(mean), time.Duration(math.Sqrt(sq / float64(len(lat))))
}

// percentile uses the nearest-rank method on sorted.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
