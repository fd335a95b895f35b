// Package filter 定义了流水线的过滤器契约。
//
// 过滤器是位于用户和下层传输之间的可选编解码层(例如 TLS、telnet 选项协商)。
// 上层字节指用户可见的解码字节,下层字节指线路上的编码字节。
// 过滤器不拥有任何 I/O:编码结果通过引擎提供的 sink 写出,
// 引擎通过回调向过滤器提供强制可写和定时器能力。
package filter

import (
	"time"
)

// DataHandler 是引擎提供给过滤器的数据出口。
// 参数:
//   - buf: []byte 要写出的数据
//
// 返回值:
//   - int 出口接受的字节数,可能小于 len(buf),剩余部分由过滤器保留
//   - error 写出错误
type DataHandler func(buf []byte) (int, error)

// Callbacks 是引擎提供给过滤器的回调集合,通过 SetCallbacks 注册
type Callbacks interface {
	// OutputReady 强制打开下层的可写回调,过滤器在产生了新的下层字节时调用
	OutputReady()

	// StartTimer 请求引擎在超时后调用过滤器的 Timeout 钩子。
	// 仅在流水线处于打开状态时生效。
	StartTimer(d time.Duration)
}

// Filter 是过滤器的操作契约。
// LLWrite、LLUrgent、Free 和 Timeout 钩子在引擎锁之外调用,其余方法都在引擎锁保护下调用;
// 实现不得回调引擎的公开接口。
type Filter interface {
	// Setup 在每次打开前初始化过滤器状态
	Setup() error

	// Cleanup 在流水线回到关闭状态时清理本轮会话的状态
	Cleanup()

	// Free 释放过滤器持有的资源
	Free()

	// SetCallbacks 注册引擎回调,必须在 Setup 之前调用
	SetCallbacks(cbs Callbacks)

	// ULReadPending 报告过滤器中是否缓冲着尚未投递的上层字节
	ULReadPending() bool

	// LLWritePending 报告过滤器中是否缓冲着尚未写出的下层字节
	LLWritePending() bool

	// LLReadNeeded 报告过滤器是否需要更多下层字节才能继续(例如半条记录)
	LLReadNeeded() bool

	// CheckOpenDone 在握手完成后做最终校验(例如密钥验证)。
	// 返回值:
	//   - error 非 nil 时打开失败
	CheckOpenDone() error

	// TryConnect 推进一轮握手。
	// 返回值:
	//   - time.Duration 与 stream.ErrAgain 配合使用的重试超时
	//   - error nil 表示握手完成;stream.ErrInProgress 表示由后续 I/O 驱动;
	//     stream.ErrAgain 表示请在返回的超时后重试;其他错误表示握手失败
	TryConnect() (time.Duration, error)

	// TryDisconnect 推进一轮断开握手,返回值约定与 TryConnect 相同
	TryDisconnect() (time.Duration, error)

	// ULWrite 编码上层字节并通过 sink 写往下层。
	// buf 为空时仅驱动已缓冲的下层字节继续写出。
	// 参数:
	//   - sink: DataHandler 下层写出口
	//   - buf: []byte 上层字节
	//
	// 返回值:
	//   - int 过滤器接受的上层字节数
	//   - error 编码或写出错误
	ULWrite(sink DataHandler, buf []byte) (int, error)

	// LLWrite 解码下层字节并通过 sink 投递给上层。
	// buf 为空时仅冲刷已缓冲的上层字节。
	// 参数:
	//   - sink: DataHandler 上层投递出口
	//   - buf: []byte 下层字节
	//
	// 返回值:
	//   - int 过滤器消费的下层字节数
	//   - error 解码错误
	LLWrite(sink DataHandler, buf []byte) (int, error)

	// LLUrgent 通知过滤器下层收到了带外数据
	LLUrgent()
}

// TimeoutHandler 可由过滤器选择性实现。
// 流水线打开期间引擎定时器到期时,引擎在锁外调用 Timeout。
type TimeoutHandler interface {
	Timeout()
}
