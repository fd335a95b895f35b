// Package passthrough 提供一个不做任何变换的过滤器实现。
//
// 它不编码、不解码,只按需缓冲两个方向的字节,并可以模拟多轮握手。
// 仅推荐用于测试和其他非生产环境:它让恒等流水线也能完整走过
// 排空式关闭、上层读背压和定时器驱动的握手路径。
package passthrough

import (
	"sync"
	"time"

	"github.com/dep2p/streamio/core/filter"
	"github.com/dep2p/streamio/core/stream"

	logging "github.com/dep2p/log"
)

var log = logging.Logger("filter-passthrough")

// 默认的下层缓冲上限
const defaultMaxPending = 64 * 1024

// 默认的握手重试间隔
const defaultRetryInterval = 50 * time.Millisecond

// Filter 是一个缓冲式恒等过滤器。
// 引擎在锁外驱动 LLWrite,因此缓冲由过滤器自己的互斥锁保护;
// 互斥锁从不跨 LLWrite 的上层投递持有,避免用户回调重入时自锁。
type Filter struct {
	cbs filter.Callbacks

	// handshakeRounds 连接握手需要的 ErrAgain 轮数
	handshakeRounds int
	// disconnectRounds 断开握手需要的 ErrAgain 轮数
	disconnectRounds int
	// retryInterval 每轮握手的重试间隔
	retryInterval time.Duration
	// maxPending 下层缓冲上限,超出的写入只被部分接受
	maxPending int

	// mu 保护以下会话状态,Setup 复位
	mu             sync.Mutex
	connectLeft    int
	disconnectLeft int
	llPending      []byte
	ulPending      []byte
}

var _ filter.Filter = &Filter{}

// Option 配置过滤器
type Option func(f *Filter)

// WithHandshakeRounds 设置连接与断开握手各自需要的重试轮数
// 参数:
//   - connect: int 连接握手轮数
//   - disconnect: int 断开握手轮数
//
// 返回值:
//   - Option 配置函数
func WithHandshakeRounds(connect, disconnect int) Option {
	return func(f *Filter) {
		f.handshakeRounds = connect
		f.disconnectRounds = disconnect
	}
}

// WithRetryInterval 设置每轮握手的重试间隔
// 参数:
//   - d: time.Duration 重试间隔
//
// 返回值:
//   - Option 配置函数
func WithRetryInterval(d time.Duration) Option {
	return func(f *Filter) {
		f.retryInterval = d
	}
}

// WithMaxPending 设置下层缓冲上限
// 参数:
//   - n: int 缓冲上限字节数
//
// 返回值:
//   - Option 配置函数
func WithMaxPending(n int) Option {
	return func(f *Filter) {
		f.maxPending = n
	}
}

// New 创建一个恒等过滤器
// 参数:
//   - opts: ...Option 配置选项
//
// 返回值:
//   - *Filter 过滤器实例
func New(opts ...Option) *Filter {
	f := &Filter{
		retryInterval: defaultRetryInterval,
		maxPending:    defaultMaxPending,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetCallbacks 注册引擎回调
func (f *Filter) SetCallbacks(cbs filter.Callbacks) {
	f.cbs = cbs
}

// Setup 复位本轮会话状态
func (f *Filter) Setup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectLeft = f.handshakeRounds
	f.disconnectLeft = f.disconnectRounds
	f.llPending = nil
	f.ulPending = nil
	return nil
}

// Cleanup 清理本轮会话状态
func (f *Filter) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.llPending = nil
	f.ulPending = nil
}

// Free 释放过滤器资源
func (f *Filter) Free() {
	f.Cleanup()
}

// ULReadPending 报告是否还缓冲着未投递的上层字节
func (f *Filter) ULReadPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ulPending) > 0
}

// LLWritePending 报告是否还缓冲着未写出的下层字节
func (f *Filter) LLWritePending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.llPending) > 0
}

// LLReadNeeded 恒等过滤器从不需要额外的下层字节
func (f *Filter) LLReadNeeded() bool {
	return false
}

// CheckOpenDone 恒等过滤器没有可校验的内容
func (f *Filter) CheckOpenDone() error {
	return nil
}

// TryConnect 模拟多轮握手:剩余轮数未耗尽时请求定时重试
func (f *Filter) TryConnect() (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectLeft > 0 {
		f.connectLeft--
		return f.retryInterval, stream.ErrAgain
	}
	return 0, nil
}

// TryDisconnect 与 TryConnect 对称
func (f *Filter) TryDisconnect() (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disconnectLeft > 0 {
		f.disconnectLeft--
		return f.retryInterval, stream.ErrAgain
	}
	return 0, nil
}

// ULWrite 把上层字节缓冲并尽量写往下层。
// 缓冲上限之外的字节不被接受;未能立即写出时请求下层可写回调。
func (f *Filter) ULWrite(sink filter.DataHandler, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	accepted := len(buf)
	if room := f.maxPending - len(f.llPending); accepted > room {
		accepted = room
	}
	if accepted > 0 {
		f.llPending = append(f.llPending, buf[:accepted]...)
	}

	for len(f.llPending) > 0 {
		n, err := sink(f.llPending)
		f.llPending = f.llPending[n:]
		if len(f.llPending) == 0 {
			f.llPending = nil
		}
		if err != nil {
			return accepted, err
		}
		if len(f.llPending) > 0 {
			// 下层没有全收,等待可写回调再驱动
			break
		}
	}

	if len(f.llPending) > 0 && f.cbs != nil {
		f.cbs.OutputReady()
	}
	return accepted, nil
}

// LLWrite 把下层字节原样投递给上层。
// 上层出口接受 0 字节表示背压,剩余字节保留在过滤器中等待重新投递。
// 出口调用期间不持过滤器锁:上层回调可能重入引擎乃至 ULWrite。
func (f *Filter) LLWrite(sink filter.DataHandler, buf []byte) (int, error) {
	consumed := len(buf)

	f.mu.Lock()
	if consumed > 0 {
		f.ulPending = append(f.ulPending, buf...)
	}
	for len(f.ulPending) > 0 {
		chunk := f.ulPending
		f.mu.Unlock()
		n, err := sink(chunk)
		f.mu.Lock()
		if n >= len(f.ulPending) {
			// Cleanup 可能在出口调用期间清空了缓冲
			f.ulPending = nil
		} else {
			f.ulPending = f.ulPending[n:]
		}
		if err != nil {
			f.mu.Unlock()
			return consumed, err
		}
		if len(f.ulPending) > 0 {
			// 上层没有全收,等待使能后的延迟读续传
			log.Debugf("上层背压,保留 %d 字节", len(f.ulPending))
			break
		}
	}
	f.mu.Unlock()
	return consumed, nil
}

// LLUrgent 恒等过滤器不处理带外数据
func (f *Filter) LLUrgent() {}
