// Package streamio 是一个通用的流 I/O 抽象库。
//
// 它把一个下层传输(core/lower)和一个可选的过滤器(core/filter,
// 例如 TLS 或 telnet 选项协商)组合成一条流水线,对应用代码呈现
// 统一的 stream.Stream 接口。流水线的编排——打开握手、读写数据通路、
// 排空式关闭、定时器、引用计数和延迟回调派发——由 pipeline/base 的
// 基础引擎完成。
package streamio

import (
	"github.com/dep2p/streamio/core/lower"
	"github.com/dep2p/streamio/core/stream"
	"github.com/dep2p/streamio/pipeline/base"
	"github.com/dep2p/streamio/pipeline/stdfn"

	logging "github.com/dep2p/log"
	"go.uber.org/multierr"
)

var log = logging.Logger("streamio")

// New 使用给定选项构造一条客户端流水线,初始为关闭状态,
// 由用户调用 Open 发起打开。未指定平台时使用 stdfn 默认平台。
// 参数:
//   - ll: lower.Layer 下层传输,所有权移交流水线
//   - cbs: stream.Callbacks 用户回调
//   - opts: ...Option 配置选项
//
// 返回值:
//   - stream.Stream 流水线
//   - error 选项或构造错误
func New(ll lower.Layer, cbs stream.Callbacks, opts ...Option) (stream.Stream, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		log.Errorf("应用选项失败: %s", err)
		return nil, err
	}
	return base.New(cfg.osFuncs, ll, cfg.filter, cbs, cfg.engineOpts()...)
}

// NewServer 使用给定选项构造一条服务端流水线:下层已就绪,
// 构造后立即进入过滤器握手,结果通过 openDone 通知。
// 参数:
//   - ll: lower.Layer 已就绪的下层传输,所有权移交流水线
//   - openDone: stream.OpenDone 握手完成回调
//   - opts: ...Option 配置选项
//
// 返回值:
//   - stream.Stream 流水线
//   - error 选项或构造错误
func NewServer(ll lower.Layer, openDone stream.OpenDone, opts ...Option) (stream.Stream, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		log.Errorf("应用选项失败: %s", err)
		return nil, err
	}
	return base.NewServer(cfg.osFuncs, ll, cfg.filter, openDone, cfg.engineOpts()...)
}

// buildConfig 应用全部选项并补齐默认值,选项错误聚合返回
func buildConfig(opts []Option) (*config, error) {
	cfg := &config{}
	var err error
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		err = multierr.Append(err, opt(cfg))
	}
	if err != nil {
		return nil, err
	}
	if cfg.osFuncs == nil {
		cfg.osFuncs = stdfn.New()
	}
	return cfg, nil
}

// engineOpts 把配置转换为引擎选项
func (cfg *config) engineOpts() []base.Option {
	var eopts []base.Option
	if cfg.metrics != nil {
		eopts = append(eopts, base.WithMetricsTracer(cfg.metrics))
	}
	return eopts
}
