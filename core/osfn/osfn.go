// Package osfn 定义了注入引擎的平台契约:锁、定时器和延迟运行器。
//
// 引擎为每个实例向平台申请一把锁、一个定时器和一个运行器,
// 并假设平台按顺序调度回调(单线程协作式事件循环),
// 但所有引擎状态仍由锁保护,因此在回调池上调度的平台同样受支持。
package osfn

import (
	"errors"
	"sync"
	"time"
)

// ErrTimerNotRunning 在对未武装的定时器调用 StopWithDone 时返回。
// 调用方以此区分"需要等待排空确认"和"可以立即释放"。
var ErrTimerNotRunning = errors.New("定时器未运行")

// Timer 是一个可排空的一次性定时器
type Timer interface {
	// Start 在超时 d 后调度回调。对已武装的定时器调用 Start 会重新武装。
	Start(d time.Duration)

	// Stop 取消已武装的定时器。
	// 返回值:
	//   - bool 成功取消返回 true;定时器未武装或回调已开始返回 false
	Stop() bool

	// StopWithDone 停止定时器并在确认回调不再可能运行后调用 done 恰好一次。
	// 返回值:
	//   - error 定时器未武装且回调未在运行时返回 ErrTimerNotRunning,
	//     此时 done 不会被调用;否则返回 nil 并异步投递 done
	StopWithDone(done func()) error

	// Free 释放定时器资源,调用前必须保证定时器已排空
	Free()
}

// Runner 是一个可复用的延迟任务运行器,把一段工作移出当前调用栈执行
type Runner interface {
	// Run 调度一次运行。调度保证在调用方的栈展开之后发生。
	Run()

	// Free 释放运行器资源
	Free()
}

// OSFuncs 是平台构造入口。
// 任一构造方法返回 nil 表示资源耗尽,引擎将构造失败并返回 stream.ErrNoMemory。
type OSFuncs interface {
	// NewLock 分配一把互斥锁
	NewLock() sync.Locker

	// NewTimer 分配一个定时器,到期时调用 fn
	NewTimer(fn func()) Timer

	// NewRunner 分配一个运行器,每次 Run 调用 fn 一次
	NewRunner(fn func()) Runner
}
