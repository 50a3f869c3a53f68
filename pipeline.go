package itempipe

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config 管道配置
type Config struct {
	// FlushLimit 单个分组触发flush的缓冲行数
	FlushLimit int
	// FlushInterval 定时清扫间隔
	FlushInterval time.Duration
	// Dialect 语句生成器方言
	Dialect Dialect
}

// DefaultConfig 默认管道配置
func DefaultConfig() Config {
	return Config{
		FlushLimit:    500,
		FlushInterval: 10 * time.Second,
		Dialect:       DialectMySQL,
	}
}

// Pipeline 批量写入管道。
// 所有分组共用一把互斥锁：追加、阈值flush、定时清扫、关闭排空
// 全部经由它串行化。阈值flush在持锁状态下进行，触发阈值的追加与
// 它触发的flush对其他生产者和定时器是原子的。
type Pipeline struct {
	mu       sync.Mutex
	cache    *Cache
	writer   BatchWriter
	pools    *PoolManager
	limit    int
	interval time.Duration
	reporter MetricsReporter

	sweepCtx    context.Context
	done        chan struct{}
	sweeperDone chan struct{}
	opened      bool
	closed      bool
}

// NewPipeline 创建管道，语句生成器由方言决定
func NewPipeline(config Config, writer BatchWriter) (*Pipeline, error) {
	if config.FlushLimit <= 0 {
		config.FlushLimit = 500
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 10 * time.Second
	}

	builder, err := NewStatementBuilder(config.Dialect)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cache:       NewCache(builder),
		writer:      writer,
		limit:       config.FlushLimit,
		interval:    config.FlushInterval,
		reporter:    &NoopMetricsReporter{},
		done:        make(chan struct{}),
		sweeperDone: make(chan struct{}),
	}, nil
}

// NewSQLPipeline 创建SQL管道，连接池由管道在Close时一并关闭。
// 只接受database/sql方言；ClickHouse和Redis需要专用writer。
func NewSQLPipeline(config Config, pools *PoolManager) (*Pipeline, error) {
	switch config.Dialect {
	case DialectClickHouse, DialectRedis:
		return nil, fmt.Errorf("%w: %s requires a dedicated batch writer", ErrUnsupportedDialect, config.Dialect)
	}

	pipeline, err := NewPipeline(config, NewSQLBatchWriter(pools))
	if err != nil {
		return nil, err
	}
	pipeline.pools = pools
	return pipeline, nil
}

// WithMetricsReporter 设置监控报告器
func (p *Pipeline) WithMetricsReporter(reporter MetricsReporter) *Pipeline {
	if reporter != nil {
		p.reporter = reporter
	}
	return p
}

// Open 打开连接池并启动定时清扫任务
func (p *Pipeline) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}
	if p.opened {
		return nil
	}

	if p.pools != nil {
		if err := p.pools.Open(ctx); err != nil {
			return err
		}
	}

	p.sweepCtx = ctx
	p.opened = true
	go p.sweepLoop()
	return nil
}

// sweepLoop 定时清扫：睡眠、加锁、flush所有非空分组、解锁、再睡眠。
// 间隔与flush耗时叠加，不做固定频率对齐。
func (p *Pipeline) sweepLoop() {
	defer close(p.sweeperDone)

	for {
		select {
		case <-p.done:
			return
		case <-time.After(p.interval):
		}

		p.mu.Lock()
		p.flushAllLocked(p.sweepCtx)
		p.mu.Unlock()
	}
}

// Accept 缓冲一条item；缓冲行数达到阈值时在持锁状态下立即flush该分组。
// 只有缺少表名、不支持的写入模式这类配置错误会同步返回，
// 下游写入失败不会传导给生产者。
func (p *Pipeline) Accept(ctx context.Context, item *Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}

	key, buffered, err := p.cache.Admit(item)
	if err != nil {
		return err
	}
	p.reporter.ReportBuffered(key.Table, p.cache.BufferedByTable(key.Table))

	if buffered >= p.limit {
		p.flushLocked(ctx, key)
	}
	return nil
}

// ProcessItem 爬虫管道钩子：缓冲item并原样透传给下游
func (p *Pipeline) ProcessItem(ctx context.Context, item *Item) (*Item, error) {
	if err := p.Accept(ctx, item); err != nil {
		return item, err
	}
	return item, nil
}

// Close 排空全部非空分组，停止定时任务并等待其退出，最后关闭连接池。
// 定时任务与排空都经由互斥锁串行化，停止不会打断进行中的清扫。
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.flushAllLocked(ctx)
	p.mu.Unlock()

	close(p.done)
	if p.opened {
		<-p.sweeperDone
	}

	if p.pools != nil {
		return p.pools.CloseAll()
	}
	return nil
}

// flushAllLocked flush所有非空分组，必须持锁调用
func (p *Pipeline) flushAllLocked(ctx context.Context) {
	for _, key := range p.cache.Keys() {
		p.flushLocked(ctx, key)
	}
}

// flushLocked 取出分组缓冲交给writer，必须持锁调用。
// 缓冲无论写入结果如何都已清空：失败的批次直接丢弃，不重试不回放。
func (p *Pipeline) flushLocked(ctx context.Context, key GroupKey) {
	group := p.cache.Group(key)
	if group == nil {
		return
	}
	rows := p.cache.Drain(key)
	if len(rows) == 0 {
		return
	}

	start := time.Now()
	results := p.writer.WriteBatch(ctx, group, rows)
	duration := time.Since(start)

	for _, result := range results {
		p.reporter.ReportFlush(group.Table, result.Alias, result.Rows, result.Affected, duration, result.Err)
	}
	// 同表的其他分组可能仍有缓冲，水位按表内全部分组求和
	p.reporter.ReportBuffered(group.Table, p.cache.BufferedByTable(group.Table))
}

// BufferedRows 指定分组当前缓冲行数（测试与监控用）
func (p *Pipeline) BufferedRows(key GroupKey) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	group := p.cache.Group(key)
	if group == nil {
		return 0
	}
	return group.Len()
}
