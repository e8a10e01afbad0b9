// storagebench exercises the full storage core — disk manager, buffer
// pool, LRU-K replacer, and page-table hash index — under concurrent
// load, the same shape as the teacher's btree performance harness: a
// bounded worker pool writing a range of pages, then reading them back
// and checking for mismatches.
package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/foundrydb/foundrydb/core/storage/buffer"
	"github.com/foundrydb/foundrydb/core/storage/disk"
	"github.com/foundrydb/foundrydb/core/storage/page"
	"github.com/foundrydb/foundrydb/pkg/logger"
	"github.com/foundrydb/foundrydb/pkg/telemetry"
	"go.uber.org/zap"
)

const (
	dataDir     = "/tmp/foundrydb"
	poolSize    = 64
	lruK        = 2
	numPages    = 2000
	maxWorkers  = 20
	metricsPort = 9465
)

func main() {
	zlogger, err := logger.New(logger.Config{Level: "info", Format: "console", OutputFile: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer zlogger.Sync()

	tel, shutdown, err := telemetry.New(telemetry.Config{
		Enabled:          true,
		ServiceName:      "storagebench",
		PrometheusPort:   metricsPort,
		TraceSampleRatio: 1.0,
	})
	if err != nil {
		zlogger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			zlogger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}()

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		zlogger.Fatal("failed to create data directory", zap.Error(err))
	}
	dbPath := filepath.Join(dataDir, "storagebench.db")
	os.Remove(dbPath)

	diskMgr, err := disk.Open(dbPath, true, zlogger.Named("disk"))
	if err != nil {
		zlogger.Fatal("failed to open disk manager", zap.Error(err))
	}
	defer diskMgr.Close()

	bpm, err := buffer.New(poolSize, lruK, diskMgr, zlogger.Named("bpm"), tel.Meter, tel.Tracer)
	if err != nil {
		zlogger.Fatal("failed to build buffer pool", zap.Error(err))
	}

	ctx := context.Background()
	payloads := writePages(ctx, zlogger, bpm)
	readAndVerify(ctx, zlogger, bpm, payloads)

	if err := bpm.FlushAllPages(); err != nil {
		zlogger.Warn("flush all pages reported an error", zap.Error(err))
	}
	zlogger.Info("storagebench complete", zap.Int("pages", len(payloads)))
}

// writePages allocates numPages pages across maxWorkers goroutines,
// fills each with a distinct random payload, and returns the mapping
// from page id to expected payload for the read-back phase.
func writePages(ctx context.Context, zlogger *zap.Logger, bpm *buffer.Manager) map[page.PageID][]byte {
	var mu sync.Mutex
	payloads := make(map[page.PageID][]byte, numPages)

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxWorkers)
	for i := 0; i < numPages; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			p, err := bpm.NewPage(ctx)
			if err != nil {
				zlogger.Error("new page failed", zap.Error(err))
				return
			}
			payload := make([]byte, page.Size)
			if _, err := rand.Read(payload); err != nil {
				zlogger.Error("failed to generate random payload", zap.Error(err))
			}
			copy(p.Data(), payload)

			mu.Lock()
			payloads[p.ID()] = payload
			mu.Unlock()

			if !bpm.UnpinPage(p.ID(), true) {
				zlogger.Error("unpin after write unexpectedly failed", zap.Int32("page_id", int32(p.ID())))
			}
		}()
	}
	wg.Wait()
	return payloads
}

// readAndVerify fetches every written page back, bounded by the same
// worker pool shape, and logs any payload mismatch.
func readAndVerify(ctx context.Context, zlogger *zap.Logger, bpm *buffer.Manager, payloads map[page.PageID][]byte) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, maxWorkers)
	var mismatches, misses int32
	var mu sync.Mutex

	for id, want := range payloads {
		sem <- struct{}{}
		wg.Add(1)
		go func(id page.PageID, want []byte) {
			defer wg.Done()
			defer func() { <-sem }()

			p, err := bpm.FetchPage(ctx, id)
			if err != nil {
				zlogger.Error("fetch failed during verification", zap.Int32("page_id", int32(id)), zap.Error(err))
				mu.Lock()
				misses++
				mu.Unlock()
				return
			}
			if !bytes.Equal(p.Data(), want) {
				zlogger.Error("payload mismatch", zap.Int32("page_id", int32(id)))
				mu.Lock()
				mismatches++
				mu.Unlock()
			}
			bpm.UnpinPage(id, false)
		}(id, want)
	}
	wg.Wait()
	zlogger.Info("verification complete", zap.Int32("mismatches", mismatches), zap.Int32("misses", misses))
}
