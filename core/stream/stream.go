// Package stream 定义了流水线对用户呈现的统一流接口。
//
// 一条流水线由下层传输(见 core/lower)和可选的过滤器(见 core/filter)组成,
// 引擎将两者组合为一个 Stream。用户通过回调接收数据和可写通知,
// 通过使能开关对读写路径施加背压。
package stream

import (
	"net"
)

// ReadFlags 是读取回调携带的标志位,当前保留,始终为 0
type ReadFlags uint32

// OpenDone 是 Open 的完成回调,err 为 nil 表示流水线握手完成并进入打开状态
type OpenDone func(err error)

// CloseDone 是 Close 的完成回调,在流水线完全回到关闭状态后恰好调用一次
type CloseDone func()

// Callbacks 是用户注册的回调集合。
// 所有回调都在引擎锁释放后调用,回调内允许重入公开接口(包括 Close 和 Free)。
type Callbacks interface {
	// Read 投递解码后的上层字节或读取错误。
	// 参数:
	//   - err: error 非 nil 时表示下层读取错误,此时 buf 为空
	//   - buf: []byte 本次投递的数据
	//   - flags: ReadFlags 保留标志位
	//
	// 返回值:
	//   - int 本次消费的字节数,未消费的部分由过滤器保留并稍后重新投递
	Read(err error, buf []byte, flags ReadFlags) int

	// WriteReady 表示下层可以继续接收数据,仅在写使能打开时投递
	WriteReady()
}

// UrgentHandler 可由用户回调选择性实现,用于接收带外(紧急)数据通知
type UrgentHandler interface {
	Urgent()
}

// Stream 是流水线的用户契约。
// 所有方法都不阻塞:无法立即完成的工作由完成回调异步结束。
type Stream interface {
	// Open 发起流水线打开:先打开下层,再驱动过滤器握手。
	// Open 返回 nil 时,完成(无论成败)通过 done 至多通知一次;
	// 打开途中被 Close 或 Free 接管时 done 不再调用。Open 返回错误时 done 不会被调用。
	// 返回值:
	//   - error 流不处于关闭状态时返回 ErrBusy;下层立即失败时返回其错误
	Open(done OpenDone) error

	// Close 发起流水线关闭:排空过滤器缓冲、断开过滤器、关闭下层。
	// 打开过程中调用 Close 会接管未完成的打开。
	// 返回值:
	//   - error 流不处于可关闭状态时返回 ErrBusy
	Close(done CloseDone) error

	// Write 将上层字节交给过滤器编码并写往下层。
	// 返回值:
	//   - int 过滤器接受的字节数
	//   - error 流未打开时返回 ErrNotOpen;否则返回先前暂存的异步写错误或本次写错误
	Write(buf []byte) (int, error)

	// Ref 增加一个用户句柄引用
	Ref()

	// Free 释放一个用户句柄引用。最后一个句柄释放时流水线进入关闭路径,
	// 关闭完成回调被抑制,所有资源在未完成的异步操作结束后释放。
	Free()

	// SetReadCallbackEnable 控制是否向用户投递读取回调
	SetReadCallbackEnable(enabled bool)

	// SetWriteCallbackEnable 控制是否向用户投递可写回调
	SetWriteCallbackEnable(enabled bool)

	// RemoteAddr 返回下层的远端地址
	RemoteAddr() (net.Addr, error)

	// RemoteAddrString 返回下层远端地址的字符串形式
	RemoteAddrString() (string, error)

	// RemoteID 返回下层的远端标识(由具体传输定义)
	RemoteID() (int, error)
}
