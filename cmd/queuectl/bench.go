package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang-message-queue/internal/domain"
	"golang-message-queue/internal/ports"

	cli "github.com/urfave/cli/v2"
)

type benchResult struct {
	TotalMessages  int
	SuccessCount   int32
	FailureCount   int32
	TotalDuration  time.Duration
	MessagesPerSec float64
	AvgSendTime    time.Duration
	MinSendTime    time.Duration
	MaxSendTime    time.Duration
	Errors         map[string]int
}

func runBench(ctx context.Context, out ports.MessageSender, numMessages, concurrency, size int) *benchResult {
	var (
		successCount  int32
		failureCount  int32
		totalSendTime int64
		minSendTime   int64 = math.MaxInt64
		maxSendTime   int64
		errorsMu      sync.Mutex
		errors        = make(map[string]int)
		wg            sync.WaitGroup
		semaphore     = make(chan struct{}, max(concurrency, 1))
	)

	body := bytes.Repeat([]byte("x"), size)
	startTime := time.Now()

	for i := 0; i < numMessages; i++ {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(n int) {
			defer wg.Done()
			defer func() { <-semaphore }()

			msg := domain.NewMessage("application/octet-stream", body)
			msg.Headers = map[string]string{"bench-seq": fmt.Sprint(n)}

			sendStart := time.Now()
			err := out.Send(ctx, msg)
			took := time.Since(sendStart).Nanoseconds()

			atomic.AddInt64(&totalSendTime, took)
			for {
				old := atomic.LoadInt64(&minSendTime)
				if took >= old || atomic.CompareAndSwapInt64(&minSendTime, old, took) {
					break
				}
			}
			for {
				old := atomic.LoadInt64(&maxSendTime)
				if took <= old || atomic.CompareAndSwapInt64(&maxSendTime, old, took) {
					break
				}
			}

			if err != nil {
				atomic.AddInt32(&failureCount, 1)
				errorsMu.Lock()
				errors[err.Error()]++
				errorsMu.Unlock()
				return
			}
			atomic.AddInt32(&successCount, 1)
		}(i)
	}

	wg.Wait()
	totalDuration := time.Since(startTime)

	result := &benchResult{
		TotalMessages: numMessages,
		SuccessCount:  successCount,
		FailureCount:  failureCount,
		TotalDuration: totalDuration,
		Errors:        errors,
	}
	if numMessages > 0 {
		result.MessagesPerSec = float64(numMessages) / totalDuration.Seconds()
		result.AvgSendTime = time.Duration(totalSendTime / int64(numMessages))
		result.MinSendTime = time.Duration(minSendTime)
		result.MaxSendTime = time.Duration(maxSendTime)
	}
	return result
}

func printResults(w io.Writer, result *benchResult) {
	total := float64(max(result.TotalMessages, 1))

	fmt.Fprintf(w, "\n📊 Bench Results\n")
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Total Messages:      %d\n", result.TotalMessages)
	fmt.Fprintf(w, "✅ Sent:              %d (%.2f%%)\n", result.SuccessCount, float64(result.SuccessCount)/total*100)
	fmt.Fprintf(w, "❌ Failed:            %d (%.2f%%)\n", result.FailureCount, float64(result.FailureCount)/total*100)
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "⏱️  Total Duration:    %v\n", result.TotalDuration)
	fmt.Fprintf(w, "⚡ Messages/sec:      %.2f\n", result.MessagesPerSec)
	fmt.Fprintf(w, "📈 Avg Send Time:     %v\n", result.AvgSendTime)
	fmt.Fprintf(w, "⬇️  Min Send Time:     %v\n", result.MinSendTime)
	fmt.Fprintf(w, "⬆️  Max Send Time:     %v\n", result.MaxSendTime)

	if len(result.Errors) > 0 {
		fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Fprintln(w, "❌ Errors:")
		for errMsg, count := range result.Errors {
			fmt.Fprintf(w, "   • %s: %d times\n", errMsg, count)
		}
	}
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func bench(c *cli.Context) error {
	n, concurrency, size := c.Int("messages"), c.Int("concurrency"), c.Int("size")
	if n < 0 || concurrency < 1 || size < 0 {
		return fmt.Errorf("bench needs messages >= 0, concurrency >= 1 and size >= 0, got %d, %d and %d", n, concurrency, size)
	}

	s, err := newSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	out, err := s.open(c.Context, domain.DirectionOutbound)
	if err != nil {
		return err
	}
	defer out.Close(context.WithoutCancel(c.Context))

	fmt.Fprintf(c.App.Writer, "\n🚀 Sending %d messages with concurrency %d\n", n, concurrency)
	fmt.Fprintf(c.App.Writer, "Target: %s (%s)\n", out.Address(), s.conf.Transport)

	result := runBench(c.Context, out, n, concurrency, size)
	printResults(c.App.Writer, result)

	if result.FailureCount > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d sends failed", result.FailureCount, n), 1)
	}
	return nil
}
