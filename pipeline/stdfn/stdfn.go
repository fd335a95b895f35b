// Package stdfn 提供 core/osfn 平台契约的默认实现:
// 标准互斥锁、基于 benbjohnson/clock 的可排空定时器、goroutine 运行器。
//
// 时钟可注入,测试时传入 clock.Mock 即可完全控制定时器的触发。
package stdfn

import (
	"sync"
	"time"

	"github.com/dep2p/streamio/core/osfn"

	"github.com/benbjohnson/clock"
)

// stdFuncs 是默认平台
type stdFuncs struct {
	clock clock.Clock
}

var _ osfn.OSFuncs = &stdFuncs{}

// New 创建使用真实时钟的默认平台
// 返回值:
//   - osfn.OSFuncs 平台实例
func New() osfn.OSFuncs {
	return NewWithClock(clock.New())
}

// NewWithClock 创建使用指定时钟的默认平台
// 参数:
//   - c: clock.Clock 时钟,测试可传入 clock.Mock
//
// 返回值:
//   - osfn.OSFuncs 平台实例
func NewWithClock(c clock.Clock) osfn.OSFuncs {
	return &stdFuncs{clock: c}
}

// NewLock 分配一把互斥锁
func (s *stdFuncs) NewLock() sync.Locker {
	return &sync.Mutex{}
}

// NewTimer 分配一个定时器
func (s *stdFuncs) NewTimer(fn func()) osfn.Timer {
	return &stdTimer{
		clock: s.clock,
		fn:    fn,
	}
}

// NewRunner 分配一个运行器
func (s *stdFuncs) NewRunner(fn func()) osfn.Runner {
	return &stdRunner{fn: fn}
}

// stdTimer 是基于 clock.AfterFunc 的一次性定时器。
// gen 在每次 Start/Stop 时递增,迟到的触发以此识别并放弃;
// firing 标记回调正在运行,StopWithDone 据此把 done 挂到回调收尾之后。
type stdTimer struct {
	mu       sync.Mutex
	clock    clock.Clock
	fn       func()
	t        *clock.Timer
	gen      uint64
	armed    bool
	firing   bool
	stopDone func()
}

var _ osfn.Timer = &stdTimer{}

// Start 武装定时器,重复 Start 重新武装
func (t *stdTimer) Start(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	gen := t.gen
	t.armed = true
	if t.t != nil {
		t.t.Stop()
	}
	t.t = t.clock.AfterFunc(d, func() {
		t.fire(gen)
	})
}

// fire 在触发时刻运行回调,迟到的触发直接放弃
func (t *stdTimer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.armed {
		t.mu.Unlock()
		return
	}
	t.armed = false
	t.firing = true
	t.mu.Unlock()

	t.fn()

	t.mu.Lock()
	t.firing = false
	done := t.stopDone
	t.stopDone = nil
	t.mu.Unlock()

	if done != nil {
		done()
	}
}

// Stop 取消已武装的定时器
func (t *stdTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.armed {
		return false
	}
	t.gen++
	t.armed = false
	if t.t != nil {
		t.t.Stop()
	}
	return true
}

// StopWithDone 停止定时器并在确认回调不再可能运行后投递 done。
// 未武装且未在触发中的定时器返回 osfn.ErrTimerNotRunning,done 不投递。
func (t *stdTimer) StopWithDone(done func()) error {
	t.mu.Lock()

	if t.firing {
		// 回调进行中,挂到回调收尾之后;回调期间重新武装的定时器一并停止
		t.stopDone = done
		t.gen++
		t.armed = false
		if t.t != nil {
			t.t.Stop()
		}
		t.mu.Unlock()
		return nil
	}
	if !t.armed {
		t.mu.Unlock()
		return osfn.ErrTimerNotRunning
	}

	t.gen++
	t.armed = false
	if t.t != nil {
		t.t.Stop()
	}
	t.mu.Unlock()

	// 触发已不可能,异步投递以保持"done 不在调用方栈内"的约定
	go done()
	return nil
}

// Free 释放定时器
func (t *stdTimer) Free() {
	t.Stop()
}

// stdRunner 每次 Run 在新的 goroutine 中执行一次 fn
type stdRunner struct {
	fn func()
}

var _ osfn.Runner = &stdRunner{}

// Run 调度一次运行
func (r *stdRunner) Run() {
	go r.fn()
}

// Free 释放运行器
func (r *stdRunner) Free() {}
