package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/relational/dbcore/common"
	"github.com/relational/dbcore/common/benchmark"
	"github.com/relational/dbcore/engine"
	"github.com/relational/dbcore/planner"
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a concurrent insert/select workload against the core and report latency",
	Long: `bench adapts the teacher's common/benchmark latency-histogram
harness (originally built for the raw key/value storage engines) to the
relational core: each worker either inserts a new row or selects an
existing one by primary key, by the same write/read ratio a key/value
benchmark run would use, and results are reported with the same
percentile table.`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().Duration("duration", 5*time.Second, "How long to run the measured phase")
	benchCmd.Flags().Int("concurrency", 8, "Number of concurrent workers")
	benchCmd.Flags().Float64("write-ratio", 0.5, "Fraction of operations that are inserts rather than selects")
}

var benchRowSeq int64

func runBench(cmd *cobra.Command, args []string) error {
	duration, _ := cmd.Flags().GetDuration("duration")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	writeRatio, _ := cmd.Flags().GetFloat64("write-ratio")

	eng, err := openEngine(cmd)
	if err != nil {
		return fmt.Errorf("bench: %w", err)
	}
	defer eng.Close()

	if err := setupBenchTable(eng); err != nil {
		return fmt.Errorf("bench: %w", err)
	}

	fmt.Println("Relational Core Benchmark")
	fmt.Println("=========================")
	fmt.Printf("Duration: %v\n", duration)
	fmt.Printf("Concurrency: %d\n", concurrency)
	fmt.Printf("Write ratio: %.2f\n\n", writeRatio)

	writeLatencies := benchmark.NewLatencyHistogram()
	readLatencies := benchmark.NewLatencyHistogram()
	var writeOps, readOps, errOps int64

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			benchWorker(eng, workerID, writeRatio, stop, writeLatencies, readLatencies, &writeOps, &readOps, &errOps)
		}(i)
	}

	start := time.Now()
	time.Sleep(duration)
	close(stop)
	wg.Wait()
	elapsed := time.Since(start)

	total := writeOps + readOps
	fmt.Printf("Total ops: %d (writes: %d, reads: %d, errors: %d)\n", total, writeOps, readOps, errOps)
	fmt.Printf("Throughput: %.0f ops/sec\n\n", float64(total)/elapsed.Seconds())
	printLatency("Insert", writeLatencies.Stats())
	printLatency("Select", readLatencies.Stats())
	return nil
}

func benchWorker(eng *engine.Engine, workerID int, writeRatio float64, stop <-chan struct{},
	writeLatencies, readLatencies *benchmark.LatencyHistogram, writeOps, readOps, errOps *int64) {
	ctx := context.Background()
	s := eng.NewSession()
	defer s.Close()

	threshold := int64(writeRatio * 1000)
	for i := 0; ; i++ {
		select {
		case <-stop:
			return
		default:
		}

		if int64(i%1000) < threshold {
			id := atomic.AddInt64(&benchRowSeq, 1)
			start := time.Now()
			_, err := s.Execute(ctx, &planner.InsertStmt{
				Table:   "bench_rows",
				Columns: []string{"id", "payload"},
				Values:  [][]planner.Expr{{intLit(id), strLit(fmt.Sprintf("w%d-%d", workerID, id))}},
			}, "")
			if err != nil {
				atomic.AddInt64(errOps, 1)
				continue
			}
			writeLatencies.Record(time.Since(start))
			atomic.AddInt64(writeOps, 1)
			continue
		}

		id := atomic.LoadInt64(&benchRowSeq)
		if id == 0 {
			continue
		}
		start := time.Now()
		_, err := s.Execute(ctx, &planner.SelectStmt{
			Projections: []planner.Expr{col("bench_rows", "payload")},
			From:        []planner.TableRef{{Table: "bench_rows"}},
			Where: &planner.BinaryOp{
				Kind:  planner.OpEq,
				Left:  col("bench_rows", "id"),
				Right: intLit(id),
			},
		}, "")
		if err != nil {
			atomic.AddInt64(errOps, 1)
			continue
		}
		readLatencies.Record(time.Since(start))
		atomic.AddInt64(readOps, 1)
	}
}

func setupBenchTable(eng *engine.Engine) error {
	if _, err := eng.Catalog().Table(eng.DBName(), "bench_rows"); err == nil {
		return nil
	}
	s := eng.NewSession()
	defer s.Close()
	_, err := s.Execute(context.Background(), &planner.CreateTableStmt{
		Name: "bench_rows",
		Columns: []planner.ColumnDef{
			{Name: "id", Type: common.KindInt},
			{Name: "payload", Type: common.KindString},
		},
		Constraints: []planner.ConstraintDef{
			{Name: "pk_bench_rows", Kind: 0, Columns: []string{"id"}},
		},
	}, "")
	return err
}

func printLatency(label string, s benchmark.LatencyStats) {
	if s.Mean == 0 {
		fmt.Printf("%s latency: no samples\n", label)
		return
	}
	fmt.Printf("%s latency:\n", label)
	fmt.Printf("  Min:  %8s\n", s.Min)
	fmt.Printf("  Mean: %8s\n", s.Mean)
	fmt.Printf("  P50:  %8s\n", s.P50)
	fmt.Printf("  P95:  %8s\n", s.P95)
	fmt.Printf("  P99:  %8s\n", s.P99)
	fmt.Printf("  Max:  %8s\n", s.Max)
	fmt.Println()
}
