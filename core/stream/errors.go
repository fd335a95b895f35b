package stream

import (
	"errors"
)

// ErrNotOpen 在流未处于打开状态时对其执行写入等操作返回此错误
var ErrNotOpen = errors.New("流未打开")

// ErrBusy 在流不处于可执行该操作的状态时返回此错误
// 例如:对未关闭的流再次调用 Open,或对不可关闭状态的流调用 Close
var ErrBusy = errors.New("流正忙")

// ErrInProgress 表示操作已受理,将通过完成回调异步结束
var ErrInProgress = errors.New("操作正在进行中")

// ErrAgain 由过滤器的握手操作返回,表示需要在给定超时后重试
var ErrAgain = errors.New("稍后重试")

// ErrComm 表示下层传输发生了通信错误,流水线已不可用
var ErrComm = errors.New("通信错误")

// ErrNoMemory 在构造期间平台资源分配失败时返回此错误
var ErrNoMemory = errors.New("内存分配失败")
