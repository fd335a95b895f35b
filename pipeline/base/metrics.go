package base

import (
	"time"

	"github.com/dep2p/streamio/core/stream"
	"github.com/dep2p/streamio/pipeline/metricshelper"

	"github.com/prometheus/client_golang/prometheus"
)

// 定义流水线引擎指标的命名空间
const metricNamespace = "streamio_pipeline"

var (
	// 打开完成计数器
	opensCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "opens_completed_total",
			Help:      "按结果统计的打开完成数",
		},
		[]string{"outcome"},
	)

	// 关闭完成计数器
	closesCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "closes_completed_total",
			Help:      "关闭完成数",
		},
	)

	// 握手延迟直方图
	openLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: metricNamespace,
			Name:      "open_latency_seconds",
			Help:      "从发起打开到握手完成的时间",
			Buckets:   prometheus.ExponentialBuckets(0.001, 1.3, 35),
		},
	)

	// 上层写入字节计数器
	bytesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "ul_bytes_written_total",
			Help:      "过滤器接受的上层写入字节数",
		},
	)

	// 上层投递字节计数器
	bytesRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "ul_bytes_read_total",
			Help:      "投递给用户的上层字节数",
		},
	)

	// 下层错误计数器
	llErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "ll_errors_total",
			Help:      "下层传输报告的错误数",
		},
	)

	// 释放计数器
	enginesFreed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "engines_freed_total",
			Help:      "已完成资源释放的引擎数",
		},
	)

	collectors = []prometheus.Collector{
		opensCompleted,
		closesCompleted,
		openLatency,
		bytesWritten,
		bytesRead,
		llErrors,
		enginesFreed,
	}
)

// MetricsTracer 是引擎的指标采集契约。
// 所有方法都可能在持引擎锁时调用,实现不得回调引擎。
type MetricsTracer interface {
	// OpenCompleted 在一次打开结束时调用
	OpenCompleted(err error, took time.Duration)
	// Closed 在流水线收束到关闭状态时调用
	Closed()
	// BytesWritten 统计过滤器接受的上层写入字节
	BytesWritten(n int)
	// BytesRead 统计投递给用户的上层字节
	BytesRead(n int)
	// LLError 统计下层传输错误
	LLError()
	// Freed 在引擎资源释放时调用
	Freed()
}

type metricsTracer struct{}

var _ MetricsTracer = &metricsTracer{}

// MetricsTracerOption 配置指标采集器
type MetricsTracerOption func(*metricsTracerSetting)

type metricsTracerSetting struct {
	reg prometheus.Registerer
}

// WithRegisterer 指定指标注册器,默认使用 prometheus.DefaultRegisterer
// 参数:
//   - reg: prometheus.Registerer 注册器
//
// 返回值:
//   - MetricsTracerOption 配置函数
func WithRegisterer(reg prometheus.Registerer) MetricsTracerOption {
	return func(s *metricsTracerSetting) {
		if reg != nil {
			s.reg = reg
		}
	}
}

// NewMetricsTracer 创建基于 prometheus 的指标采集器
// 参数:
//   - opts: ...MetricsTracerOption 配置选项
//
// 返回值:
//   - MetricsTracer 指标采集器
func NewMetricsTracer(opts ...MetricsTracerOption) MetricsTracer {
	setting := &metricsTracerSetting{reg: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(setting)
	}
	metricshelper.RegisterCollectors(setting.reg, collectors...)
	return &metricsTracer{}
}

// OpenCompleted 记录一次打开结束
func (m *metricsTracer) OpenCompleted(err error, took time.Duration) {
	tags := metricshelper.GetStringSlice()
	defer metricshelper.PutStringSlice(tags)

	outcome := "ok"
	switch {
	case err == nil:
	case err == stream.ErrComm:
		outcome = "comm_error"
	default:
		outcome = "failed"
	}
	*tags = append(*tags, outcome)
	opensCompleted.WithLabelValues(*tags...).Inc()
	if err == nil {
		openLatency.Observe(took.Seconds())
	}
}

// Closed 记录一次关闭完成
func (m *metricsTracer) Closed() {
	closesCompleted.Inc()
}

// BytesWritten 累计上层写入字节
func (m *metricsTracer) BytesWritten(n int) {
	bytesWritten.Add(float64(n))
}

// BytesRead 累计上层投递字节
func (m *metricsTracer) BytesRead(n int) {
	bytesRead.Add(float64(n))
}

// LLError 累计下层错误
func (m *metricsTracer) LLError() {
	llErrors.Inc()
}

// Freed 累计引擎释放
func (m *metricsTracer) Freed() {
	enginesFreed.Inc()
}
