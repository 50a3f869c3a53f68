package itempipe

import (
	"context"
	"sync"
)

var _ BatchWriter = (*MockBatchWriter)(nil)

// MockBatchWriter 模拟批量写入器（用于测试）。
// 记录每次写入的分组与行数据，可按别名注入失败。
type MockBatchWriter struct {
	mu         sync.Mutex
	batches    map[GroupKey][][][]any
	aliasErrs  map[string]error
	writeCount int
}

// NewMockBatchWriter 创建模拟批量写入器
func NewMockBatchWriter() *MockBatchWriter {
	return &MockBatchWriter{
		batches:   make(map[GroupKey][][][]any),
		aliasErrs: make(map[string]error),
	}
}

// FailAlias 让指定别名的写入固定失败
func (w *MockBatchWriter) FailAlias(alias string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.aliasErrs[alias] = err
}

// WriteBatch 记录批次并按注入的错误返回结果
func (w *MockBatchWriter) WriteBatch(ctx context.Context, group *Group, rows [][]any) []AliasResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.batches[group.Key] = append(w.batches[group.Key], rows)
	w.writeCount++

	results := make([]AliasResult, 0, len(group.Aliases))
	for _, alias := range group.Aliases {
		result := AliasResult{Alias: alias, Rows: len(rows)}
		if err, exists := w.aliasErrs[alias]; exists {
			result.Err = err
		} else {
			result.Affected = int64(len(rows))
		}
		results = append(results, result)
	}
	return results
}

// WriteCount 已执行的写入次数
func (w *MockBatchWriter) WriteCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeCount
}

// SnapshotBatches 返回指定分组全部批次的一次性快照，避免并发读写竞态
func (w *MockBatchWriter) SnapshotBatches(key GroupKey) [][][]any {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([][][]any, len(w.batches[key]))
	copy(out, w.batches[key])
	return out
}

// SnapshotRows 返回指定分组写入过的全部行（跨批次展平）
func (w *MockBatchWriter) SnapshotRows(key GroupKey) [][]any {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out [][]any
	for _, batch := range w.batches[key] {
		out = append(out, batch...)
	}
	return out
}

// SnapshotRowsByTable 返回写入指定表的全部行，跨分组与批次展平
func (w *MockBatchWriter) SnapshotRowsByTable(table string) [][]any {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out [][]any
	for key, batches := range w.batches {
		if key.Table != table {
			continue
		}
		for _, batch := range batches {
			out = append(out, batch...)
		}
	}
	return out
}

// SnapshotBatchSizes 返回写入指定表的各批次行数
func (w *MockBatchWriter) SnapshotBatchSizes(table string) []int {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []int
	for key, batches := range w.batches {
		if key.Table != table {
			continue
		}
		for _, batch := range batches {
			out = append(out, len(batch))
		}
	}
	return out
}
