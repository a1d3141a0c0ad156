// Command loadtest drives the query API with a rotating set of text
// queries and reports throughput, latency percentiles, cache hit rate and
// status codes.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"maps"
	"math"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var defaultQueries = []string{
	"title contains fox",
	"title contains fox and year > 1990",
	"author = \"Le Guin\"",
	"year >= 2000 and not title contains owl",
	"title phrase \"red fox\"",
	"title like fo*",
	"branch = annex",
	"branch = main and title contains hound",
	"year < 1980 or year > 2015",
	"title contains north",
}

type options struct {
	baseURL     string
	concurrency int
	duration    time.Duration
	maxResults  int
	sort        string
	federate    bool
	queries     []string
}

type stats struct {
	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	cacheHits atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func (s *stats) record(d time.Duration, code int, cacheHit bool, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if code >= 200 && code < 300 {
		s.success.Add(1)
	} else {
		s.errors.Add(1)
	}
	if cacheHit {
		s.cacheHits.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[code]++
	s.mu.Unlock()
}

func main() {
	opts := options{}
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "base URL of the query service")
	flag.IntVar(&opts.concurrency, "concurrency", 10, "number of concurrent workers")
	flag.DurationVar(&opts.duration, "duration", 30*time.Second, "test duration")
	flag.IntVar(&opts.maxResults, "max", 10, "maxResults per query")
	flag.StringVar(&opts.sort, "sort", "", "sort spec, e.g. year:desc")
	flag.BoolVar(&opts.federate, "federate", false, "query federated hosts too")
	queryFile := flag.String("queries", "", "file with one text query per line")
	flag.Parse()

	opts.queries = defaultQueries
	if *queryFile != "" {
		qs, err := readQueries(*queryFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		opts.queries = qs
	}

	fmt.Println("=== Query Engine Load Test ===")
	fmt.Printf("Target:      %s\n", opts.baseURL)
	fmt.Printf("Concurrency: %d\n", opts.concurrency)
	fmt.Printf("Duration:    %s\n", opts.duration)
	fmt.Printf("Queries:     %d unique\n", len(opts.queries))
	fmt.Printf("Federated:   %v\n", opts.federate)
	fmt.Println()

	s := run(opts)
	if !report(s, opts.duration) {
		os.Exit(1)
	}
}

func readQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening query file: %w", err)
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s holds no queries", path)
	}
	return out, nil
}

func (o options) searchURL(q string) string {
	v := url.Values{"q": {q}, "max": {fmt.Sprint(o.maxResults)}}
	if o.sort != "" {
		v.Set("sort", o.sort)
	}
	if o.federate {
		v.Set("federate", "true")
	}
	return o.baseURL + "/api/v1/search?" + v.Encode()
}

func run(opts options) *stats {
	s := &stats{codes: make(map[int]int64), latencies: make([]time.Duration, 0, 100000)}
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        opts.concurrency * 2,
			MaxIdleConnsPerHost: opts.concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.duration)
	defer cancel()

	fmt.Print("Running")
	var wg sync.WaitGroup
	for w := range opts.concurrency {
		wg.Go(func() {
			for i := w; ctx.Err() == nil; i++ {
				target := opts.searchURL(opts.queries[i%len(opts.queries)])
				start := time.Now()
				code, hit, err := execute(ctx, client, target)
				if ctx.Err() != nil {
					return
				}
				s.record(time.Since(start), code, hit, err)
			}
		})
	}
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
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
	return s
}

func execute(ctx context.Context, client *http.Client, target string) (int, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()
	var body struct {
		CacheHit bool `json:"cacheHit"`
	}
	if resp.StatusCode == http.StatusOK {
		json.NewDecoder(resp.Body).Decode(&body)
	}
	return resp.StatusCode, body.CacheHit, nil
}

func report(s *stats, duration time.Duration) bool {
	total := s.total.Load()
	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Successful:      %d\n", s.success.Load())
	fmt.Printf("Errors:          %d\n", s.errors.Load())
	if total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(s.errors.Load())/float64(total)*100)
		fmt.Printf("Cache Hit Rate:  %.2f%%\n", float64(s.cacheHits.Load())/float64(total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	latencies := slices.Clone(s.latencies)
	slices.Sort(latencies)
	if len(latencies) > 0 {
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))
		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		for _, p := range []float64{50, 90, 95, 99} {
			fmt.Printf("P%-5.0f %s\n", p, percentile(latencies, p))
		}
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	for _, c := range slices.Sorted(maps.Keys(s.codes)) {
		fmt.Printf("  %d: %d\n", c, s.codes[c])
	}
	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
