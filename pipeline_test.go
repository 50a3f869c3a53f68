package itempipe_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rushairer/itempipe"
)

func newMockPipeline(t *testing.T, config itempipe.Config) (*itempipe.Pipeline, *itempipe.MockBatchWriter) {
	t.Helper()
	writer := itempipe.NewMockBatchWriter()
	pipeline, err := itempipe.NewPipeline(config, writer)
	if err != nil {
		t.Fatalf("NewPipeline failed: %v", err)
	}
	return pipeline, writer
}

func TestThresholdFlush(t *testing.T) {
	pipeline, writer := newMockPipeline(t, itempipe.Config{
		FlushLimit:    5,
		FlushInterval: time.Hour,
	})
	ctx := context.Background()

	// 阈值前不写入
	for i := 0; i < 4; i++ {
		item := itempipe.NewItem("users").SetInt64("id", int64(i))
		if err := pipeline.Accept(ctx, item); err != nil {
			t.Fatalf("Accept failed: %v", err)
		}
	}
	if writer.WriteCount() != 0 {
		t.Fatalf("expected no flush below threshold, got %d", writer.WriteCount())
	}

	// 第五条触发flush，缓冲整体排空
	if err := pipeline.Accept(ctx, itempipe.NewItem("users").SetInt64("id", 4)); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if writer.WriteCount() != 1 {
		t.Fatalf("expected exactly one flush at threshold, got %d", writer.WriteCount())
	}
	sizes := writer.SnapshotBatchSizes("users")
	if len(sizes) != 1 || sizes[0] != 5 {
		t.Errorf("expected one batch of 5 rows, got %v", sizes)
	}

	if err := pipeline.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if writer.WriteCount() != 1 {
		t.Errorf("drained pipeline should have nothing left to flush, got %d writes", writer.WriteCount())
	}
}

func TestSweepFlushesBelowThreshold(t *testing.T) {
	pipeline, writer := newMockPipeline(t, itempipe.Config{
		FlushLimit:    100,
		FlushInterval: 50 * time.Millisecond,
	})
	ctx := context.Background()

	if err := pipeline.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		item := itempipe.NewItem("pages").SetString("url", fmt.Sprintf("https://example.com/%d", i))
		if err := pipeline.Accept(ctx, item); err != nil {
			t.Fatalf("Accept failed: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for writer.WriteCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if writer.WriteCount() == 0 {
		t.Fatal("sweeper never flushed the below-threshold buffer")
	}
	if rows := writer.SnapshotRowsByTable("pages"); len(rows) != 3 {
		t.Errorf("expected 3 rows flushed by sweep, got %d", len(rows))
	}

	if err := pipeline.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestCloseDrainsOnce(t *testing.T) {
	pipeline, writer := newMockPipeline(t, itempipe.Config{
		FlushLimit:    100,
		FlushInterval: time.Hour,
	})
	ctx := context.Background()

	if err := pipeline.Open(ctx); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		item := itempipe.NewItem("users").SetInt64("id", int64(i))
		if err := pipeline.Accept(ctx, item); err != nil {
			t.Fatalf("Accept failed: %v", err)
		}
	}
	if writer.WriteCount() != 0 {
		t.Fatal("nothing should flush before close")
	}

	if err := pipeline.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if writer.WriteCount() != 1 {
		t.Fatalf("close should drain exactly once, got %d writes", writer.WriteCount())
	}
	if rows := writer.SnapshotRowsByTable("users"); len(rows) != 3 {
		t.Errorf("expected 3 rows drained at close, got %d", len(rows))
	}

	// 关闭后拒绝新item
	err := pipeline.Accept(ctx, itempipe.NewItem("users").SetInt64("id", 9))
	if !errors.Is(err, itempipe.ErrPipelineClosed) {
		t.Errorf("expected ErrPipelineClosed, got %v", err)
	}

	// 重复关闭无副作用
	if err := pipeline.Close(ctx); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if writer.WriteCount() != 1 {
		t.Errorf("second close must not flush again, got %d writes", writer.WriteCount())
	}
}

func TestAliasFailureDoesNotPropagate(t *testing.T) {
	pipeline, writer := newMockPipeline(t, itempipe.Config{
		FlushLimit:    2,
		FlushInterval: time.Hour,
	})
	writer.FailAlias("replica", errors.New("connection refused"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		item := itempipe.NewItem("users").
			SetInt64("id", int64(i)).
			WithAliases("primary", "replica")
		if err := pipeline.Accept(ctx, item); err != nil {
			t.Fatalf("Accept failed despite downstream error: %v", err)
		}
	}
	if writer.WriteCount() != 1 {
		t.Fatalf("expected one flush, got %d", writer.WriteCount())
	}

	// 失败批次直接丢弃，关闭时不再有数据
	if err := pipeline.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if writer.WriteCount() != 1 {
		t.Errorf("failed batch must not be retried, got %d writes", writer.WriteCount())
	}
}

func TestConcurrentProducers(t *testing.T) {
	pipeline, writer := newMockPipeline(t, itempipe.Config{
		FlushLimit:    50,
		FlushInterval: time.Hour,
	})
	ctx := context.Background()

	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				item := itempipe.NewItem("events").SetInt64("id", int64(p*perProducer+i))
				if err := pipeline.Accept(ctx, item); err != nil {
					t.Errorf("Accept failed: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	if err := pipeline.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// 1000条、阈值50：恰好20个满批，无行丢失无行重复
	sizes := writer.SnapshotBatchSizes("events")
	if len(sizes) != producers*perProducer/50 {
		t.Fatalf("expected %d batches, got %d", producers*perProducer/50, len(sizes))
	}
	for i, size := range sizes {
		if size != 50 {
			t.Errorf("batch %d has %d rows, expected 50", i, size)
		}
	}

	seen := make(map[int64]int)
	for _, row := range writer.SnapshotRowsByTable("events") {
		seen[row[0].(int64)]++
	}
	if len(seen) != producers*perProducer {
		t.Fatalf("expected %d distinct rows, got %d", producers*perProducer, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("row %d written %d times", id, count)
		}
	}
}

func TestProcessItemPassThrough(t *testing.T) {
	pipeline, _ := newMockPipeline(t, itempipe.DefaultConfig())
	ctx := context.Background()

	item := itempipe.NewItem("users").SetInt64("id", 1)
	out, err := pipeline.ProcessItem(ctx, item)
	if err != nil {
		t.Fatalf("ProcessItem failed: %v", err)
	}
	if out != item {
		t.Error("item must pass through unchanged")
	}

	// 配置错误同步返回，item仍透传
	bad := itempipe.NewItem("")
	out, err = pipeline.ProcessItem(ctx, bad)
	if !errors.Is(err, itempipe.ErrMissingTable) {
		t.Errorf("expected ErrMissingTable, got %v", err)
	}
	if out != bad {
		t.Error("item must pass through even on error")
	}

	if err := pipeline.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestSmallBufferFlushedOnlyAtClose(t *testing.T) {
	pipeline, writer := newMockPipeline(t, itempipe.DefaultConfig())
	ctx := context.Background()

	// 默认阈值500，3条记录只会在关闭时落库
	for i := 0; i < 3; i++ {
		item := itempipe.NewItem("articles").
			SetString("title", fmt.Sprintf("article %d", i)).
			WithWriteMode(itempipe.ModeInsertIgnore)
		if err := pipeline.Accept(ctx, item); err != nil {
			t.Fatalf("Accept failed: %v", err)
		}
	}
	if writer.WriteCount() != 0 {
		t.Fatal("small buffer must not flush before close")
	}

	if err := pipeline.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if rows := writer.SnapshotRowsByTable("articles"); len(rows) != 3 {
		t.Errorf("expected 3 rows at close, got %d", len(rows))
	}
}

func TestSQLPipelineRejectsNonSQLDialects(t *testing.T) {
	for _, dialect := range []itempipe.Dialect{itempipe.DialectClickHouse, itempipe.DialectRedis} {
		_, err := itempipe.NewSQLPipeline(itempipe.Config{Dialect: dialect}, itempipe.NewPoolManager())
		if !errors.Is(err, itempipe.ErrUnsupportedDialect) {
			t.Errorf("%v: expected ErrUnsupportedDialect, got %v", dialect, err)
		}
	}
}

func TestBufferedGaugeSumsGroupsPerTable(t *testing.T) {
	pipeline, _ := newMockPipeline(t, itempipe.Config{
		FlushLimit:    2,
		FlushInterval: time.Hour,
	})
	reporter := &recordingReporter{}
	pipeline.WithMetricsReporter(reporter)
	ctx := context.Background()

	// 同一张表的两个分组：阈值flush其中一个后，另一个的缓冲仍计入水位
	if err := pipeline.Accept(ctx, itempipe.NewItem("users").SetInt64("id", 1)); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	other := itempipe.NewItem("users").SetInt64("id", 2).WithWriteMode(itempipe.ModeInsertIgnore)
	if err := pipeline.Accept(ctx, other); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if err := pipeline.Accept(ctx, itempipe.NewItem("users").SetInt64("id", 3)); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}

	if got := reporter.lastBuffered(); got != 1 {
		t.Errorf("gauge must keep the unflushed group's rows, got %d", got)
	}

	if err := pipeline.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := reporter.lastBuffered(); got != 0 {
		t.Errorf("gauge must be zero after close drain, got %d", got)
	}
}

func TestMetricsReporting(t *testing.T) {
	pipeline, _ := newMockPipeline(t, itempipe.Config{
		FlushLimit:    2,
		FlushInterval: time.Hour,
	})
	reporter := &recordingReporter{}
	pipeline.WithMetricsReporter(reporter)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		item := itempipe.NewItem("users").SetInt64("id", int64(i))
		if err := pipeline.Accept(ctx, item); err != nil {
			t.Fatalf("Accept failed: %v", err)
		}
	}
	if err := pipeline.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if got := reporter.flushes(); got != 1 {
		t.Errorf("expected 1 flush report, got %d", got)
	}
	if got := reporter.maxBuffered(); got != 2 {
		t.Errorf("expected peak buffered 2, got %d", got)
	}
}

type recordingReporter struct {
	mu       sync.Mutex
	flushed  int
	buffered []int
}

func (r *recordingReporter) ReportFlush(table string, alias string, attempted int, confirmed int64, duration time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushed++
}

func (r *recordingReporter) ReportBuffered(table string, buffered int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffered = append(r.buffered, buffered)
}

func (r *recordingReporter) flushes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushed
}

func (r *recordingReporter) lastBuffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buffered) == 0 {
		return 0
	}
	return r.buffered[len(r.buffered)-1]
}

func (r *recordingReporter) maxBuffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, n := range r.buffered {
		if n > max {
			max = n
		}
	}
	return max
}
