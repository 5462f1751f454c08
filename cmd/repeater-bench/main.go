// Command repeater-bench measures the repeater's added latency by
// subscribing to the same upstream feed directly and through a running
// repeater instance, matching frames by seqId, and reporting the average
// delta between the two arrival times.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/HanshengGUO/okx-websocket-repeater/internal/config"
	"github.com/HanshengGUO/okx-websocket-repeater/internal/logging"
	"github.com/HanshengGUO/okx-websocket-repeater/internal/upstream"
)

const runDuration = 15 * time.Second

type arrival struct {
	okxTime      time.Time
	repeaterTime time.Time
}

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to repeater_config.json")
	duration := flag.Duration("duration", runDuration, "benchmark run duration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "repeater-bench: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if len(cfg.OkxConnections) == 0 {
		fmt.Fprintln(os.Stderr, "repeater-bench: config has no okx_connections to compare against")
		os.Exit(1)
	}

	subMsg, err := cfg.SubMessage()
	if err != nil {
		fmt.Fprintf(os.Stderr, "repeater-bench: %v\n", err)
		os.Exit(1)
	}

	repeaterHost := cfg.RepeaterServer.Host
	if repeaterHost == "0.0.0.0" {
		repeaterHost = "127.0.0.1"
	}
	repeaterURL := fmt.Sprintf("ws://%s:%d", repeaterHost, cfg.RepeaterServer.Port)

	logger := logging.New(false)

	var mu sync.Mutex
	results := map[int64]*arrival{}

	get := func(seq int64) *arrival {
		a, ok := results[seq]
		if !ok {
			a = &arrival{}
			results[seq] = a
		}
		return a
	}

	onOkx := func(msg []byte) {
		now := time.Now()
		seq, ok := extractSeqID(msg)
		if !ok {
			return
		}
		mu.Lock()
		get(seq).okxTime = now
		mu.Unlock()
	}

	onRepeater := func(msg []byte) {
		now := time.Now()
		seq, ok := extractSeqID(msg)
		if !ok {
			return
		}
		mu.Lock()
		get(seq).repeaterTime = now
		mu.Unlock()
	}

	okxClient := upstream.New(upstream.Endpoint{URL: cfg.OkxConnections[0], SubMsg: subMsg, ID: 1}, onOkx, logger, nil)
	repeaterClient := upstream.New(upstream.Endpoint{URL: repeaterURL, SubMsg: "{}", ID: 2}, onRepeater, logger, nil)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); okxClient.Run(ctx) }()
	go func() { defer wg.Done(); repeaterClient.Run(ctx) }()

	fmt.Printf("repeater-bench: comparing direct feed vs repeater for %s...\n", *duration)
	wg.Wait()

	printStats(results)
}

func extractSeqID(msg []byte) (int64, bool) {
	var fr struct {
		Data []struct {
			SeqID *int64 `json:"seqId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &fr); err != nil {
		return 0, false
	}
	if len(fr.Data) == 0 || fr.Data[0].SeqID == nil {
		return 0, false
	}
	return *fr.Data[0].SeqID, true
}

func printStats(results map[int64]*arrival) {
	var diffs []time.Duration
	repeaterFaster, okxFaster := 0, 0

	for _, a := range results {
		if a.okxTime.IsZero() || a.repeaterTime.IsZero() {
			continue
		}
		d := a.repeaterTime.Sub(a.okxTime)
		diffs = append(diffs, d)
		if d < 0 {
			repeaterFaster++
		} else {
			okxFaster++
		}
	}

	fmt.Println("\n--- Benchmark Results ---")
	if len(diffs) == 0 {
		fmt.Println("No matching seqId pairs received from both sources. Cannot calculate stats.")
		fmt.Println("Please ensure the repeater is running and correctly configured.")
		return
	}

	sort.Slice(diffs, func(i, j int) bool { return diffs[i] < diffs[j] })

	var total time.Duration
	for _, d := range diffs {
		total += d
	}
	avgMs := float64(total) / float64(len(diffs)) / float64(time.Millisecond)

	fmt.Printf("Total matching seqId pairs: %d\n", len(diffs))
	fmt.Printf("Repeater was faster: %d times.\n", repeaterFaster)
	fmt.Printf("OKX direct feed was faster: %d times.\n", okxFaster)
	fmt.Printf("Average latency (repeater_time - okx_time): %.4f ms\n", avgMs)
	fmt.Println("(A negative value means the repeater is faster on average)")
}

