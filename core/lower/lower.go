// Package lower 定义了流水线的下层传输契约。
//
// 下层(LL)是引擎之下的具体传输,例如 TCP、UDP、stdio 或 pty。
// 引擎独占地拥有下层:回调使能开关只由引擎的使能调和规则驱动,
// 下层实现不得自行开关。
package lower

import (
	"net"
)

// OpenDone 是异步打开的完成回调
type OpenDone func(err error)

// CloseDone 是异步关闭的完成回调
type CloseDone func()

// Callbacks 是下层向引擎投递事件的回调集合,通过 SetCallbacks 注册
type Callbacks interface {
	// Read 投递下层读到的字节或读取错误。
	// 参数:
	//   - err: error 非 nil 时表示下层发生错误,此时 buf 为空
	//   - buf: []byte 读到的数据
	//
	// 返回值:
	//   - int 引擎消费的字节数,未消费的部分由下层保留并稍后重新投递
	Read(err error, buf []byte) int

	// WriteReady 表示下层重新可写
	WriteReady()

	// Urgent 表示下层收到了带外(紧急)数据
	Urgent()
}

// Layer 是下层传输的操作契约。
// 所有方法都不阻塞;回调的投递上下文由注入的平台决定。
type Layer interface {
	// Open 打开下层。
	// 返回值:
	//   - error nil 表示立即完成(done 不会被调用);
	//     stream.ErrInProgress 表示异步完成,之后 done 恰好调用一次;
	//     其他错误表示立即失败
	Open(done OpenDone) error

	// Close 关闭下层。打开尚未完成时调用 Close 会取消打开,其完成回调不再投递。
	// 返回值:
	//   - error stream.ErrInProgress 表示异步完成,之后 done 恰好调用一次;
	//     nil 表示立即完成(done 不会被调用)
	Close(done CloseDone) error

	// Write 向下层写入字节。
	// 返回值:
	//   - int 下层接受的字节数,可能小于 len(buf)
	//   - error 写入错误
	Write(buf []byte) (int, error)

	// SetReadCallbackEnable 控制是否投递读取回调
	SetReadCallbackEnable(enabled bool)

	// SetWriteCallbackEnable 控制是否投递可写回调
	SetWriteCallbackEnable(enabled bool)

	// SetCallbacks 注册引擎的回调集合,必须在 Open 之前调用
	SetCallbacks(cbs Callbacks)

	// RemoteAddr 返回远端地址
	RemoteAddr() (net.Addr, error)

	// RemoteAddrString 返回远端地址的字符串形式
	RemoteAddrString() (string, error)

	// RemoteID 返回远端标识(由具体传输定义)
	RemoteID() (int, error)

	// Free 释放下层持有的资源,只能在引擎完成全部回调之后调用
	Free()
}
