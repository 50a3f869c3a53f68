package itempipe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// AliasResult 单个目标库的一次批量写入结果
type AliasResult struct {
	Alias    string
	Rows     int
	Affected int64
	Err      error
}

// BatchWriter 批量写入器接口。
// 按分组的别名列表顺序写入，单个别名失败不影响其余别名，
// 失败的批次不重试（至多一次语义）。
type BatchWriter interface {
	WriteBatch(ctx context.Context, group *Group, rows [][]any) []AliasResult
}

var _ BatchWriter = (*SQLBatchWriter)(nil)

// SQLBatchWriter SQL数据库批量写入器。
// 每个别名独立事务：预编译分组语句后逐行执行，成功提交，失败回滚。
type SQLBatchWriter struct {
	pools *PoolManager
}

// NewSQLBatchWriter 创建SQL批量写入器
func NewSQLBatchWriter(pools *PoolManager) *SQLBatchWriter {
	return &SQLBatchWriter{pools: pools}
}

// WriteBatch 将缓冲行依次写入分组的全部目标库
func (w *SQLBatchWriter) WriteBatch(ctx context.Context, group *Group, rows [][]any) []AliasResult {
	results := make([]AliasResult, 0, len(group.Aliases))

	for _, alias := range group.Aliases {
		result := AliasResult{Alias: alias, Rows: len(rows)}

		db, err := w.pools.Get(alias)
		if err != nil {
			result.Err = err
			log.Printf("itempipe: save data error, table:%s->%s, err:%v", alias, group.Table, err)
			results = append(results, result)
			continue
		}

		result.Affected, result.Err = w.writeAlias(ctx, db, group, rows)
		if result.Err != nil {
			log.Printf("itempipe: save data error, table:%s->%s, err:%v", alias, group.Table, result.Err)
		} else {
			log.Printf("itempipe: table:%s->%s sum:%d ok:%d", alias, group.Table, len(rows), result.Affected)
		}
		results = append(results, result)
	}

	return results
}

// writeAlias 在一个事务内执行整批写入
func (w *SQLBatchWriter) writeAlias(ctx context.Context, db *sql.DB, group *Group, rows [][]any) (int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, group.SQL)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}

	var affected int64
	for _, row := range rows {
		result, err := stmt.ExecContext(ctx, row...)
		if err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return 0, err
		}
		if n, err := result.RowsAffected(); err == nil {
			affected += n
		}
	}
	_ = stmt.Close()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return affected, nil
}

var _ BatchWriter = (*RedisBatchWriter)(nil)

// RedisBatchWriter Redis批量写入器。
// 缓冲行作为命令参数按行回放到Pipeline，第一列是命令名。
type RedisBatchWriter struct {
	mu      sync.RWMutex
	clients map[string]*redis.Client
}

// NewRedisBatchWriter 创建Redis批量写入器
func NewRedisBatchWriter() *RedisBatchWriter {
	return &RedisBatchWriter{
		clients: make(map[string]*redis.Client),
	}
}

// AddClient 注册别名对应的Redis客户端
func (w *RedisBatchWriter) AddClient(alias string, client *redis.Client) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clients[alias] = client
}

// WriteBatch 将缓冲行按别名依次回放
func (w *RedisBatchWriter) WriteBatch(ctx context.Context, group *Group, rows [][]any) []AliasResult {
	results := make([]AliasResult, 0, len(group.Aliases))

	for _, alias := range group.Aliases {
		result := AliasResult{Alias: alias, Rows: len(rows)}

		w.mu.RLock()
		client, exists := w.clients[alias]
		w.mu.RUnlock()
		if !exists {
			result.Err = fmt.Errorf("%w: %s", ErrUnknownAlias, alias)
			log.Printf("itempipe: save data error, table:%s->%s, err:%v", alias, group.Table, result.Err)
			results = append(results, result)
			continue
		}

		result.Affected, result.Err = w.writeAlias(ctx, client, rows)
		if result.Err != nil {
			log.Printf("itempipe: save data error, table:%s->%s, err:%v", alias, group.Table, result.Err)
		} else {
			log.Printf("itempipe: table:%s->%s sum:%d ok:%d", alias, group.Table, len(rows), result.Affected)
		}
		results = append(results, result)
	}

	return results
}

func (w *RedisBatchWriter) writeAlias(ctx context.Context, client *redis.Client, rows [][]any) (int64, error) {
	pipeline := client.Pipeline()
	for _, row := range rows {
		pipeline.Do(ctx, row...)
	}

	cmds, err := pipeline.Exec(ctx)
	if err != nil {
		return 0, err
	}

	var confirmed int64
	for _, cmd := range cmds {
		if cmd.Err() != nil {
			err = errors.Join(err, cmd.Err())
			continue
		}
		confirmed++
	}
	return confirmed, err
}
