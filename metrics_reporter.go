package itempipe

import "time"

// MetricsReporter 性能监控报告器接口
type MetricsReporter interface {
	// ReportFlush 上报一次按别名的批量写入结果：提交行数与确认行数
	ReportFlush(table string, alias string, attempted int, confirmed int64, duration time.Duration, err error)

	// ReportBuffered 上报某张表当前的缓冲行数
	ReportBuffered(table string, buffered int)
}

var _ MetricsReporter = (*NoopMetricsReporter)(nil)

// NoopMetricsReporter 空实现，未配置监控时使用
type NoopMetricsReporter struct{}

// ReportFlush 空实现
func (r *NoopMetricsReporter) ReportFlush(table string, alias string, attempted int, confirmed int64, duration time.Duration, err error) {
}

// ReportBuffered 空实现
func (r *NoopMetricsReporter) ReportBuffered(table string, buffered int) {}
