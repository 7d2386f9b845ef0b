package btree

import (
	"fmt"
	"testing"
	"time"

	"github.com/relational/dbcore/common/benchmark"
)

// TestQuickBenchmark exercises the raw byte-oriented BTree through the
// teacher's generic storage-engine benchmark harness (it implements
// common.StorageEngine directly: Put/Get/Delete/Close/Sync/Stats/
// Compact), the same harness the hashindex package used to be graded
// against before the row heap moved onto this tree directly.
func TestQuickBenchmark(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping benchmark in short mode")
	}

	dir := t.TempDir()
	bt, err := New(Config{DataDir: dir + "/bench.db", Order: 128, CacheSize: 50000})
	if err != nil {
		t.Fatal(err)
	}
	defer bt.Close()

	benchConfig := benchmark.Config{
		Name:            "btree-quick",
		WorkloadType:    benchmark.WorkloadBalanced,
		KeyDistribution: benchmark.DistUniform,
		NumKeys:         100000,
		KeySize:         16,
		ValueSize:       100,
		Duration:        10 * time.Second,
		Concurrency:     8,
		PreloadKeys:     10000,
		Seed:            12345,
	}

	bench := benchmark.NewBenchmark(bt, benchConfig)
	result, err := bench.Run()
	if err != nil {
		t.Fatal(err)
	}

	fmt.Printf("\n=== BTree Quick Benchmark ===\n")
	fmt.Printf("Throughput: %.0f ops/sec\n", result.OpsPerSec)
	fmt.Printf("Total Ops: %d (writes: %d, reads: %d)\n",
		result.TotalOps, result.WriteOps, result.ReadOps)

	if result.WriteOps > 0 {
		fmt.Printf("Write Latency: P50=%v, P99=%v, P999=%v\n",
			result.WriteLatency.P50, result.WriteLatency.P99, result.WriteLatency.P999)
	}

	if result.ReadOps > 0 {
		fmt.Printf("Read Latency: P50=%v, P99=%v, P999=%v\n",
			result.ReadLatency.P50, result.ReadLatency.P99, result.ReadLatency.P999)
	}

	fmt.Printf("Write Amp: %.2fx, Space Amp: %.2fx\n",
		result.WriteAmplification, result.SpaceAmplification)
	fmt.Printf("Disk Usage: %.1f MB\n", result.TotalDiskMB)

	if result.OpsPerSec < 1000 {
		t.Errorf("Expected at least 1000 ops/sec, got %.0f", result.OpsPerSec)
	}
}
