// Command bench-client drives a configurable number of concurrent TCP
// connections against a target (normally tcp-relay fronting echo-server)
// and reports either throughput or round-trip latency statistics.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	flags "github.com/jessevdk/go-flags"
)

type args struct {
	Host        string `short:"h" long:"host" default:"127.0.0.1" description:"Target host"`
	Port        uint16 `short:"p" long:"port" default:"8886" description:"Target port"`
	Mode        string `short:"m" long:"mode" default:"throughput" description:"Test mode: throughput|latency"`
	Connections int    `short:"c" long:"connections" default:"10" description:"Number of concurrent connections"`
	Duration    int    `short:"d" long:"duration" default:"10" description:"Test duration in seconds"`
	MessageSize int    `short:"s" long:"message-size" default:"4096" description:"Message size in bytes"`
	Threads     int    `short:"t" long:"threads" default:"4" description:"Number of client threads"`
}

// statistics aggregates the results of one benchmark run. Samples are
// latency-mode only; throughput mode only ever touches the byte,
// connection, and error counters.
type statistics struct {
	mu      sync.Mutex
	samples []float64
	sum     float64

	totalBytes       atomic.Int64
	totalConnections atomic.Int64
	totalErrors      atomic.Int64
}

func (s *statistics) addSample(v float64) {
	s.mu.Lock()
	s.samples = append(s.samples, v)
	s.sum += v
	s.mu.Unlock()
}

func (s *statistics) mergeSamples(local []float64) {
	if len(local) == 0 {
		return
	}
	s.mu.Lock()
	for _, v := range local {
		s.samples = append(s.samples, v)
		s.sum += v
	}
	s.mu.Unlock()
}

func (s *statistics) average() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return 0
	}
	return s.sum / float64(len(s.samples))
}

func (s *statistics) percentile(p float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), s.samples...)
	sort.Float64s(sorted)
	index := int(p / 100.0 * float64(len(sorted)-1))
	return sorted[index]
}

func (s *statistics) minValue() float64 { return s.extreme(func(a, b float64) bool { return a < b }) }
func (s *statistics) maxValue() float64 { return s.extreme(func(a, b float64) bool { return a > b }) }

func (s *statistics) extreme(better func(a, b float64) bool) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return 0
	}
	best := s.samples[0]
	for _, v := range s.samples[1:] {
		if better(v, best) {
			best = v
		}
	}
	return best
}

func (s *statistics) sampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func main() {
	var a args
	parser := flags.NewParser(&a, flags.Default)
	parser.Name = "bench-client"
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	if a.Mode != "throughput" && a.Mode != "latency" {
		fmt.Fprintf(os.Stderr, "invalid mode: %s\n", a.Mode)
		os.Exit(1)
	}

	runtime.GOMAXPROCS(a.Threads)

	runID := uuid.New()

	fmt.Println("Benchmark Configuration:")
	fmt.Printf("  Run ID:      %s\n", runID)
	fmt.Printf("  Host:        %s\n", a.Host)
	fmt.Printf("  Port:        %d\n", a.Port)
	fmt.Printf("  Mode:        %s\n", a.Mode)
	fmt.Printf("  Connections: %d\n", a.Connections)
	fmt.Printf("  Duration:    %d seconds\n", a.Duration)
	fmt.Printf("  Msg Size:    %d bytes\n", a.MessageSize)
	fmt.Printf("  Threads:     %d\n", a.Threads)
	fmt.Println("\nStarting benchmark...")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimer := context.WithTimeout(ctx, time.Duration(a.Duration)*time.Second)
	defer cancelTimer()

	stats := &statistics{}
	target := net.JoinHostPort(a.Host, fmt.Sprintf("%d", a.Port))

	start := time.Now()

	var wg sync.WaitGroup
	wg.Add(a.Connections)
	for i := 0; i < a.Connections; i++ {
		go func(id int) {
			defer wg.Done()
			switch a.Mode {
			case "throughput":
				throughputWorker(ctx, target, a.MessageSize, id, stats)
			case "latency":
				latencyWorker(ctx, target, a.MessageSize, id, stats)
			}
		}(i)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()

	switch a.Mode {
	case "throughput":
		printThroughputResult(stats, duration)
	case "latency":
		printLatencyResult(stats, duration)
	}
}

func throughputWorker(ctx context.Context, target string, messageSize, connID int, stats *statistics) {
	conn, err := net.Dial("tcp", target)
	if err != nil {
		stats.totalErrors.Add(1)
		return
	}
	defer conn.Close()
	stats.totalConnections.Add(1)

	sendBuf := randomBuffer(messageSize, connID)
	recvBuf := make([]byte, messageSize)

	for ctx.Err() == nil {
		if err := writeFull(conn, sendBuf, stats); err != nil {
			stats.totalErrors.Add(1)
			return
		}
		if err := readFull(conn, recvBuf, stats); err != nil {
			stats.totalErrors.Add(1)
			return
		}
	}
}

func latencyWorker(ctx context.Context, target string, messageSize, connID int, stats *statistics) {
	conn, err := net.Dial("tcp", target)
	if err != nil {
		stats.totalErrors.Add(1)
		return
	}
	defer conn.Close()
	stats.totalConnections.Add(1)

	sendBuf := randomBuffer(messageSize, connID)
	recvBuf := make([]byte, messageSize)

	var local []float64
	for ctx.Err() == nil {
		begin := time.Now()
		if err := writeFull(conn, sendBuf, nil); err != nil {
			stats.totalErrors.Add(1)
			break
		}
		if err := readFull(conn, recvBuf, nil); err != nil {
			stats.totalErrors.Add(1)
			break
		}
		local = append(local, float64(time.Since(begin).Microseconds()))
	}
	stats.mergeSamples(local)
}

func writeFull(conn net.Conn, buf []byte, stats *statistics) error {
	written := 0
	for written < len(buf) {
		n, err := conn.Write(buf[written:])
		if err != nil {
			return err
		}
		written += n
		if stats != nil {
			stats.totalBytes.Add(int64(n))
		}
	}
	return nil
}

func readFull(conn net.Conn, buf []byte, stats *statistics) error {
	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		if err != nil {
			return err
		}
		read += n
		if stats != nil {
			stats.totalBytes.Add(int64(n))
		}
	}
	return nil
}

func randomBuffer(size, seed int) []byte {
	rng := rand.New(rand.NewSource(int64(seed)))
	buf := make([]byte, size)
	rng.Read(buf)
	return buf
}

func printThroughputResult(stats *statistics, duration float64) {
	totalMB := float64(stats.totalBytes.Load()) / (1024.0 * 1024.0)
	throughputMBps := totalMB / duration

	fmt.Println("\n=== Throughput Test Results ===")
	fmt.Printf("Duration:        %.2f seconds\n", duration)
	fmt.Printf("Total Data:      %.2f MB\n", totalMB)
	fmt.Printf("Throughput:      %.2f MB/s\n", throughputMBps)
	fmt.Printf("Connections:     %d\n", stats.totalConnections.Load())
	fmt.Printf("Errors:          %d\n", stats.totalErrors.Load())
}

func printLatencyResult(stats *statistics, duration float64) {
	fmt.Println("\n=== Latency Test Results ===")
	fmt.Printf("Duration:        %.2f seconds\n", duration)
	fmt.Printf("Samples:         %d\n", stats.sampleCount())
	fmt.Printf("Avg Latency:     %.2f us\n", stats.average())
	fmt.Printf("Min Latency:     %.2f us\n", stats.minValue())
	fmt.Printf("Max Latency:     %.2f us\n", stats.maxValue())
	fmt.Printf("P50 Latency:     %.2f us\n", stats.percentile(50))
	fmt.Printf("P95 Latency:     %.2f us\n", stats.percentile(95))
	fmt.Printf("P99 Latency:     %.2f us\n", stats.percentile(99))
	fmt.Printf("Errors:          %d\n", stats.totalErrors.Load())
}
