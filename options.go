package streamio

// 此文件包含所有流水线配置选项

import (
	"errors"

	"github.com/dep2p/streamio/core/filter"
	"github.com/dep2p/streamio/core/osfn"
	"github.com/dep2p/streamio/pipeline/base"
)

// config 收集构造流水线所需的全部设置
type config struct {
	filter  filter.Filter
	osFuncs osfn.OSFuncs
	metrics base.MetricsTracer
}

// Option 是一个流水线配置选项,可以传递给 New 和 NewServer
type Option func(cfg *config) error

// WithFilter 在用户和下层传输之间插入过滤器,所有权移交流水线
// 参数:
//   - f: filter.Filter 过滤器实例
//
// 返回值:
//   - Option 配置函数
func WithFilter(f filter.Filter) Option {
	return func(cfg *config) error {
		if cfg.filter != nil {
			return errors.New("过滤器只能指定一次")
		}
		cfg.filter = f
		return nil
	}
}

// WithOSFuncs 指定注入的平台,默认使用 stdfn 平台
// 参数:
//   - o: osfn.OSFuncs 平台实例
//
// 返回值:
//   - Option 配置函数
func WithOSFuncs(o osfn.OSFuncs) Option {
	return func(cfg *config) error {
		if cfg.osFuncs != nil {
			return errors.New("平台只能指定一次")
		}
		cfg.osFuncs = o
		return nil
	}
}

// WithMetricsTracer 启用指标采集
// 参数:
//   - mt: base.MetricsTracer 指标采集器
//
// 返回值:
//   - Option 配置函数
func WithMetricsTracer(mt base.MetricsTracer) Option {
	return func(cfg *config) error {
		cfg.metrics = mt
		return nil
	}
}

// ChainOptions 将多个选项链接成单个选项
// 参数:
//   - opts: ...Option 要链接的选项列表
//
// 返回值:
//   - Option 链接后的单个选项函数
func ChainOptions(opts ...Option) Option {
	return func(cfg *config) error {
		for _, opt := range opts {
			if opt == nil {
				continue
			}
			if err := opt(cfg); err != nil {
				return err
			}
		}
		return nil
	}
}
