//go:build unix

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SkynetNext/localipc/internal/cmsg"
	"github.com/SkynetNext/localipc/internal/limbo"
	"github.com/SkynetNext/localipc/internal/transport"
)

var (
	mode        = flag.String("mode", "echo", "echo: load a running ipcd; linger: stress limbo in-process")
	socket      = flag.String("socket", "/tmp/localipc.sock", "Target socket (echo mode)")
	connections = flag.Int("connections", 100, "Number of concurrent connections")
	duration    = flag.Duration("duration", 30*time.Second, "Test duration")
	rate        = flag.Float64("rate", 10.0, "Messages per second per connection (echo mode)")
	messageSize = flag.Int("message-size", 64, "Message size in bytes")
	withFD      = flag.Bool("fd", true, "Pass a descriptor with every message (echo mode)")
	backlog     = flag.Int("backlog", 1, "Limbo sender backlog (linger mode)")
	overflow    = flag.String("overflow", "drop", "Limbo overflow policy: drop or flush (linger mode)")
	drainDelay  = flag.Duration("drain-delay", 50*time.Millisecond, "How long the sink waits before reading (linger mode)")
	timeout     = flag.Duration("timeout", 5*time.Second, "Connection timeout")
	verbose     = flag.Bool("verbose", false, "Verbose output")
)

type Stats struct {
	TotalConnections int64
	SuccessfulConns  int64
	FailedConns      int64
	TotalMessages    int64
	SuccessfulMsgs   int64
	FailedMsgs       int64
	TotalBytes       int64
	Descriptors      int64
	Truncated        int64
	MinLatency       int64
	MaxLatency       int64
	TotalLatency     int64
	Preserved        int64
	BytesDelivered   int64
	BytesLost        int64
}

var stats Stats

func main() {
	flag.Parse()

	fmt.Printf("=== localipc load test (%s) ===\n", *mode)
	fmt.Printf("Connections: %d, Duration: %v, Message size: %d\n\n", *connections, *duration, *messageSize)

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	statsDone := make(chan struct{})
	go reportStats(ctx, statsDone)

	start := time.Now()
	var err error
	switch *mode {
	case "echo":
		err = runEcho(ctx)
	case "linger":
		err = runLinger(ctx)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	<-statsDone
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
		os.Exit(1)
	}
	printFinalReport(time.Since(start))
}

// runEcho keeps connections busy against a running ipcd.
func runEcho(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < *connections; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				echoConnection(ctx)
			}
		}()
	}
	wg.Wait()
	return nil
}

func echoConnection(ctx context.Context) {
	atomic.AddInt64(&stats.TotalConnections, 1)

	dctx, cancel := context.WithTimeout(ctx, *timeout)
	conn, err := transport.Dial(dctx, *socket, transport.Options{MinAncillarySpare: 64})
	cancel()
	if err != nil {
		atomic.AddInt64(&stats.FailedConns, 1)
		if *verbose {
			fmt.Printf("connection failed: %v\n", err)
		}
		time.Sleep(100 * time.Millisecond)
		return
	}
	defer conn.Close()
	atomic.AddInt64(&stats.SuccessfulConns, 1)

	r, w, err := os.Pipe()
	if err != nil {
		return
	}
	defer r.Close()
	defer w.Close()

	payload := make([]byte, *messageSize)
	reply := make([]byte, *messageSize)
	in := cmsg.NewVecBuffer[*cmsg.RecvContext](256, &cmsg.RecvContext{})
	out := cmsg.NewVecBuffer[cmsg.NoContext](64, cmsg.NoContext{})

	ticker := time.NewTicker(time.Duration(float64(time.Second) / *rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cmsg.Reset(out.Erased())
		if *withFD {
			_ = cmsg.AddRights(out, int(r.Fd()))
		}
		if err := sendMessage(conn, payload, reply, in, out); err != nil {
			atomic.AddInt64(&stats.FailedMsgs, 1)
			if *verbose {
				fmt.Printf("message failed: %v\n", err)
			}
			return
		}
	}
}

func sendMessage(conn *transport.Conn, payload, reply []byte, in *cmsg.VecBuffer[*cmsg.RecvContext], out *cmsg.VecBuffer[cmsg.NoContext]) error {
	start := time.Now()
	atomic.AddInt64(&stats.TotalMessages, 1)

	if _, err := conn.WriteAncillary(payload, out.Erased()); err != nil {
		return err
	}
	atomic.AddInt64(&stats.TotalBytes, int64(len(payload)))

	_ = conn.SetReadDeadline(time.Now().Add(*timeout))
	cmsg.Reset(in.Erased())
	got := 0
	for got < len(reply) {
		n, err := conn.ReadAncillary(reply[got:], in.Erased())
		got += n
		if err != nil {
			return err
		}
	}
	atomic.AddInt64(&stats.TotalBytes, int64(got))

	msgs, err := cmsg.Decode(in.Erased())
	if msgs != nil {
		atomic.AddInt64(&stats.Descriptors, int64(len(msgs.Rights)))
		msgs.CloseRights()
	}
	if errors.Is(err, cmsg.ErrTruncated) {
		atomic.AddInt64(&stats.Truncated, 1)
	} else if err != nil {
		return err
	}

	atomic.AddInt64(&stats.SuccessfulMsgs, 1)
	recordLatency(time.Since(start))
	return nil
}

func recordLatency(latency time.Duration) {
	l := int64(latency)
	for {
		old := atomic.LoadInt64(&stats.MinLatency)
		if old != 0 && l >= old || atomic.CompareAndSwapInt64(&stats.MinLatency, old, l) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&stats.MaxLatency)
		if l <= old || atomic.CompareAndSwapInt64(&stats.MaxLatency, old, l) {
			break
		}
	}
	atomic.AddInt64(&stats.TotalLatency, l)
}

// runLinger opens connections to an in-process sink that reads late, closes
// each one right after queuing a large write and counts what limbo delivers.
func runLinger(ctx context.Context) error {
	opts := limbo.Options{FlushTimeout: *timeout, Backlog: *backlog}
	if *overflow == "flush" {
		opts.Overflow = limbo.FlushPolicy(*timeout)
	}
	l := limbo.New(opts)

	dir, err := os.MkdirTemp("", "linger")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "sink.sock")

	ln, err := transport.Listen(path, transport.Options{})
	if err != nil {
		return err
	}
	defer ln.Close()

	var sinks sync.WaitGroup
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	defer stopSinks()
	go func() {
		for a := range ln.Incoming(sinkCtx) {
			if a.Err != nil {
				continue
			}
			sinks.Add(1)
			go func(c *transport.Conn) {
				defer sinks.Done()
				defer c.Close()
				time.Sleep(*drainDelay)
				n, _ := io.Copy(io.Discard, c)
				atomic.AddInt64(&stats.BytesDelivered, n)
			}(a.Conn)
		}
	}()

	payload := make([]byte, *messageSize)
	var wg sync.WaitGroup
	sem := make(chan struct{}, *connections)
	for ctx.Err() == nil {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			lingerOnce(ctx, path, payload, l)
		}()
	}
	wg.Wait()

	// Give limbo the flush timeout to finish what it holds.
	time.Sleep(*timeout)
	stopSinks()
	sinks.Wait()

	sent := atomic.LoadInt64(&stats.TotalBytes)
	atomic.StoreInt64(&stats.BytesLost, sent-atomic.LoadInt64(&stats.BytesDelivered))
	slots, attempts := l.Stats()
	fmt.Printf("\nLimbo: %d/%d slots used, %d admission attempts\n", slots, limbo.Slots, attempts)
	return nil
}

func lingerOnce(ctx context.Context, path string, payload []byte, l *limbo.Limbo) {
	atomic.AddInt64(&stats.TotalConnections, 1)
	dctx, cancel := context.WithTimeout(ctx, *timeout)
	conn, err := transport.Dial(dctx, path, transport.Options{PreserveBuffers: true, Limbo: l})
	cancel()
	if err != nil {
		atomic.AddInt64(&stats.FailedConns, 1)
		return
	}
	atomic.AddInt64(&stats.SuccessfulConns, 1)

	if _, err := conn.Write(payload); err != nil {
		atomic.AddInt64(&stats.FailedMsgs, 1)
		conn.Close()
		return
	}
	atomic.AddInt64(&stats.TotalMessages, 1)
	atomic.AddInt64(&stats.TotalBytes, int64(len(payload)))
	if conn.Pending() > 0 {
		atomic.AddInt64(&stats.Preserved, 1)
	}
	conn.Close()
}

func reportStats(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			printStats()
		}
	}
}

func printStats() {
	fmt.Printf("\r[Stats] Conns: %d/%d (failed: %d) | Msgs: %d (failed: %d) | Bytes: %d",
		atomic.LoadInt64(&stats.SuccessfulConns),
		atomic.LoadInt64(&stats.TotalConnections),
		atomic.LoadInt64(&stats.FailedConns),
		atomic.LoadInt64(&stats.SuccessfulMsgs),
		atomic.LoadInt64(&stats.FailedMsgs),
		atomic.LoadInt64(&stats.TotalBytes))
}

func printFinalReport(elapsed time.Duration) {
	fmt.Printf("\n\n=== Final Report ===\n")
	fmt.Printf("Duration: %v\n", elapsed)

	totalConns := atomic.LoadInt64(&stats.TotalConnections)
	failedConns := atomic.LoadInt64(&stats.FailedConns)
	totalMsgs := atomic.LoadInt64(&stats.TotalMessages)
	successMsgs := atomic.LoadInt64(&stats.SuccessfulMsgs)
	failedMsgs := atomic.LoadInt64(&stats.FailedMsgs)

	fmt.Printf("\n--- Connections ---\n")
	fmt.Printf("Total: %d, Failed: %d\n", totalConns, failedConns)

	fmt.Printf("\n--- Messages ---\n")
	fmt.Printf("Total: %d, Successful: %d, Failed: %d\n", totalMsgs, successMsgs, failedMsgs)
	fmt.Printf("Throughput: %.2f msg/s\n", float64(successMsgs)/elapsed.Seconds())

	if *mode == "echo" {
		fmt.Printf("Descriptors echoed: %d, truncated receives: %d\n",
			atomic.LoadInt64(&stats.Descriptors), atomic.LoadInt64(&stats.Truncated))
		if successMsgs > 0 {
			fmt.Printf("\n--- Latency ---\n")
			fmt.Printf("Min: %v\n", time.Duration(atomic.LoadInt64(&stats.MinLatency)))
			fmt.Printf("Max: %v\n", time.Duration(atomic.LoadInt64(&stats.MaxLatency)))
			fmt.Printf("Avg: %v\n", time.Duration(atomic.LoadInt64(&stats.TotalLatency)/successMsgs))
		}
	} else {
		fmt.Printf("\n--- Limbo ---\n")
		fmt.Printf("Closed with pending writes: %d\n", atomic.LoadInt64(&stats.Preserved))
		fmt.Printf("Bytes delivered: %d, lost: %d\n",
			atomic.LoadInt64(&stats.BytesDelivered), atomic.LoadInt64(&stats.BytesLost))
	}

	if failedConns > totalConns/10 || failedMsgs > totalMsgs/10 {
		fmt.Printf("\nTest failed: too many errors\n")
		os.Exit(1)
	}
	fmt.Printf("\nTest completed successfully\n")
}
