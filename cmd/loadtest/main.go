package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/codewandler/clstr-pubsub/config"
	"github.com/codewandler/clstr-pubsub/core/app"
	"github.com/codewandler/clstr-pubsub/core/cluster"
	"github.com/codewandler/clstr-pubsub/core/pubsub"
)

// === Config ===

// NOTE: run nats: docker run --net=host nats:latest -js
// and point the tool at it: CLSTR_PROVIDER=nats CLSTR_NATS_URL=nats://127.0.0.1:4222

var (
	logLevel  = slog.LevelInfo
	N         = getEnvInt("N", 20_000)
	batchSize = getEnvInt("B", 1_000)
	receivers = getEnvInt("RECEIVERS", 2)
	payload   = getEnvInt("PAYLOAD", 256)
)

func getEnv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, fmt.Sprintf("%d", fallback)))
	if err != nil {
		return fallback
	}
	return v
}

// counter counts broadcasts and tracks how far behind the slowest delivery was.
type counter struct {
	n       atomic.Int64
	maxLagN atomic.Int64
}

func (c *counter) OnMessage(msg cluster.Message) {
	c.n.Add(1)
	if m, ok := msg.Data.(map[string]any); ok {
		if s, ok := m["sent"].(string); ok {
			sent, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return
			}
			lag := int64(time.Since(sent))
			for {
				cur := c.maxLagN.Load()
				if lag <= cur || c.maxLagN.CompareAndSwap(cur, lag) {
					break
				}
			}
		}
	}
}

func (c *counter) OnResponse(cluster.Response) {}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg, err := config.Load(getEnv("CONFIG", ""))
	checkErr(err)

	fmt.Printf("Provider:  %s\n", cfg.Provider)
	fmt.Printf("Receivers: %d\n", receivers)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	tp, err := cfg.OpenTopic(ctx, log)
	checkErr(err)
	defer func() { _ = tp.Close() }()

	opts, err := cfg.Options(log, nil)
	checkErr(err)

	// === nodes ===

	publisher := startNode(ctx, log, tp, opts, "publisher", cluster.NewRecorder())
	defer shutdown(publisher)

	counters := make([]*counter, receivers)
	for i := range receivers {
		counters[i] = &counter{}
		n := startNode(ctx, log, tp, opts, fmt.Sprintf("receiver-%d", i), counters[i])
		defer shutdown(n)
	}

	a, _ := publisher.Adapter("/")
	data := make([]byte, payload)

	// === START ===

	log.Info("==================================")
	log.Info("Starting ...")

	startAt := time.Now()
	lastTime := startAt

	for i := 1; i <= N; i++ {
		_, err := a.Publish(ctx, cluster.Message{
			UID:  a.UID(),
			NSP:  "/",
			Type: cluster.MsgBroadcast,
			Data: map[string]any{"sent": time.Now().Format(time.RFC3339Nano), "body": data},
		})
		checkErr(err)

		if i%100 == 0 {
			print(".")
		}
		if i%batchSize == 0 {
			mu := getMemUsage()

			n := time.Now()
			took := n.Sub(lastTime)
			fmt.Printf(" | %5d msgs | %6d ms |  %6d msgs/s | %7d delivered | (%d / %d) MiB mem (sys) |\n", batchSize, took.Milliseconds(), int(float64(batchSize)/took.Seconds()), delivered(counters), mu.Alloc/1024/1024, mu.Sys/1024/1024)
			lastTime = n
		}
	}
	publishedAt := time.Now()

	// wait for the receivers to drain
	want := int64(N * receivers)
	for delivered(counters) < want && ctx.Err() == nil {
		time.Sleep(50 * time.Millisecond)
	}

	// === stats ===
	println("")
	println("==========================================")

	doneAt := time.Now()
	took := doneAt.Sub(startAt)
	runtime.GC()

	var maxLag time.Duration
	for _, c := range counters {
		maxLag = max(maxLag, time.Duration(c.maxLagN.Load()))
	}

	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("    published: %d\n", N)
	fmt.Printf("    delivered: %d / %d\n", delivered(counters), want)
	fmt.Printf("  avg. pubs/s: %d\n", int(float64(N)/publishedAt.Sub(startAt).Seconds()))
	fmt.Printf("avg. deliv./s: %d\n", int(float64(delivered(counters))/took.Seconds()))
	fmt.Printf("      max lag: %s\n", maxLag)
}

func startNode(ctx context.Context, log *slog.Logger, tp config.Topic, opts pubsub.Options, id string, h cluster.Handler) *app.App {
	a, err := app.Run(app.Config{
		Context: ctx,
		Log:     log,
		ID:      id,
		Topic:   tp,
		Options: opts,
	}, app.Namespace{Name: "/", Handler: h})
	checkErr(err)
	return a
}

func shutdown(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Shutdown(ctx)
}

func delivered(counters []*counter) (n int64) {
	for _, c := range counters {
		n += c.n.Load()
	}
	return n
}

// === stats helpers ===

type MemUsage struct {
	Alloc      uint64 // bytes allocated and not yet freed (heap)
	TotalAlloc uint64 // cumulative bytes allocated
	Sys        uint64 // total bytes obtained from OS
	NumGC      uint32 // gc cycles
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// === Helpers ===

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
