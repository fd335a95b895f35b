// Package base 实现了流水线的基础引擎。
//
// 引擎把一个下层传输(lower.Layer)和一个可选的过滤器(filter.Filter)组合成
// 对用户统一的 stream.Stream:编排打开握手、读写数据通路、排空式关闭、
// 定时器、引用计数以及延迟回调派发。
//
// 锁规则:所有可变状态只在持锁时读写,用户回调总是在锁释放后调用。
// 过滤器和下层的操作在锁内调用,但凡会递归进入引擎 sink 的路径
// (过滤器的上/下层写驱动读投递)都先释放锁。
package base

import (
	"net"
	"sync"
	"time"

	"github.com/dep2p/streamio/core/filter"
	"github.com/dep2p/streamio/core/lower"
	"github.com/dep2p/streamio/core/osfn"
	"github.com/dep2p/streamio/core/stream"

	logging "github.com/dep2p/log"
	"github.com/google/uuid"
)

var log = logging.Logger("pipeline-base")

// engine 是一条流水线的全部状态,实现 stream.Stream
type engine struct {
	o      osfn.OSFuncs
	ll     lower.Layer
	filter filter.Filter // 可为 nil,此时引擎等价于恒等过滤器

	lock  sync.Locker
	timer osfn.Timer

	// refcount 统计异步操作与回调的存活引用,freeref 统计用户句柄。
	// 两者独立:用户层面的共享不能阻止内部的收尾记账。
	refcount uint
	freeref  uint

	state state

	cbs       stream.Callbacks
	openDone  stream.OpenDone
	closeDone stream.CloseDone

	readEnabled bool
	inRead      bool

	xmitEnabled bool
	// tmpXmitEnabled 保证服务端构造后可写回调至少触发一次,
	// 第一轮握手尝试由下层的可写路径发起
	tmpXmitEnabled bool

	// savedXmitErr 暂存异步路径上捕获的写错误,由下一次 Write 消费
	savedXmitErr error

	// llErrOccurred 表示下层报告过错误,流水线大概率已不可用
	llErrOccurred bool

	deferredOpPending bool
	deferredOpRunner  osfn.Runner

	deferredRead  bool
	deferredOpen  bool
	deferredClose bool

	// openRefHeld 表示异步下层打开持有的引用尚未归还。
	// 正常由下层打开完成回调归还;打开途中被 Close/Free 接管时由接管方归还。
	openRefHeld bool

	// llCloseDone 记录本轮下层关闭的收尾动作。
	// 异步完成时由下层回调执行;立即完成时由延迟派发的 deferredClose 分支执行,
	// 保证打开失败路径即使在下层同步关闭时也通过 openDone 报告。
	llCloseDone func()

	isClient  bool
	openStart time.Time

	metrics MetricsTracer

	// id 用于日志关联
	id string
}

var _ stream.Stream = &engine{}

// Option 配置引擎
type Option func(e *engine)

// WithMetricsTracer 注册指标采集器
// 参数:
//   - mt: MetricsTracer 指标采集器
//
// 返回值:
//   - Option 配置函数
func WithMetricsTracer(mt MetricsTracer) Option {
	return func(e *engine) {
		e.metrics = mt
	}
}

// llCallbacks 把下层事件转交引擎,避免在 engine 上暴露回调方法
type llCallbacks struct {
	e *engine
}

var _ lower.Callbacks = llCallbacks{}

func (c llCallbacks) Read(err error, buf []byte) int { return c.e.llRead(err, buf) }
func (c llCallbacks) WriteReady()                    { c.e.llWriteReady() }
func (c llCallbacks) Urgent()                        { c.e.llUrgent() }

// filterCallbacks 把过滤器请求转交引擎
type filterCallbacks struct {
	e *engine
}

var _ filter.Callbacks = filterCallbacks{}

// OutputReady 在过滤器操作内部被调用,此时引擎锁已被持有,因此不再加锁
func (c filterCallbacks) OutputReady() {
	c.e.ll.SetWriteCallbackEnable(true)
}

// StartTimer 只允许在流水线打开状态武装引擎定时器。
// 过滤器从自身的 Timeout 钩子(锁外)调用,因此这里需要加锁。
func (c filterCallbacks) StartTimer(d time.Duration) {
	e := c.e
	e.lock.Lock()
	if e.state == stateOpen {
		e.timer.Start(d)
	}
	e.lock.Unlock()
}

// newEngine 构造引擎。
// 客户端初始为关闭状态;服务端直接进入过滤器握手,
// 并以 tmpXmitEnabled 保证第一轮握手尝试从下层可写路径发出。
func newEngine(o osfn.OSFuncs, ll lower.Layer, f filter.Filter, isClient bool,
	openDone stream.OpenDone, cbs stream.Callbacks, opts ...Option) (stream.Stream, error) {
	e := &engine{
		o:        o,
		ll:       ll,
		filter:   f,
		refcount: 1,
		freeref:  1,
		isClient: isClient,
		cbs:      cbs,
		id:       uuid.NewString()[:8],
	}

	for _, opt := range opts {
		opt(e)
	}

	e.lock = o.NewLock()
	if e.lock == nil {
		e.finishFree()
		return nil, stream.ErrNoMemory
	}

	e.timer = o.NewTimer(e.timeout)
	if e.timer == nil {
		e.finishFree()
		return nil, stream.ErrNoMemory
	}

	e.deferredOpRunner = o.NewRunner(e.deferredOp)
	if e.deferredOpRunner == nil {
		e.finishFree()
		return nil, stream.ErrNoMemory
	}

	if e.filter != nil {
		e.filter.SetCallbacks(filterCallbacks{e})
	}
	ll.SetCallbacks(llCallbacks{e})

	if isClient {
		e.state = stateClosed
	} else {
		if err := e.filterSetup(); err != nil {
			e.finishFree()
			return nil, err
		}
		e.openDone = openDone
		e.openStart = time.Now()
		e.state = stateInFilterOpen
		e.tmpXmitEnabled = true
		e.setLLEnables()
	}

	log.Debugf("流水线 %s: 已构造 (client=%v, filter=%v)", e.id, isClient, f != nil)
	return e, nil
}

// New 构造一条客户端流水线,初始为关闭状态,由用户调用 Open 发起打开。
// 参数:
//   - o: osfn.OSFuncs 注入的平台
//   - ll: lower.Layer 下层传输,所有权移交引擎
//   - f: filter.Filter 过滤器,可为 nil,所有权移交引擎
//   - cbs: stream.Callbacks 用户回调
//   - opts: ...Option 配置选项
//
// 返回值:
//   - stream.Stream 流水线
//   - error 构造错误
func New(o osfn.OSFuncs, ll lower.Layer, f filter.Filter,
	cbs stream.Callbacks, opts ...Option) (stream.Stream, error) {
	return newEngine(o, ll, f, true, nil, cbs, opts...)
}

// NewServer 构造一条服务端流水线:下层已就绪,直接进入过滤器握手,
// 握手结果通过 openDone 通知。
// 参数:
//   - o: osfn.OSFuncs 注入的平台
//   - ll: lower.Layer 已就绪的下层传输,所有权移交引擎
//   - f: filter.Filter 过滤器,可为 nil,所有权移交引擎
//   - openDone: stream.OpenDone 握手完成回调
//   - opts: ...Option 配置选项
//
// 返回值:
//   - stream.Stream 流水线
//   - error 构造错误
func NewServer(o osfn.OSFuncs, ll lower.Layer, f filter.Filter,
	openDone stream.OpenDone, opts ...Option) (stream.Stream, error) {
	return newEngine(o, ll, f, false, openDone, nil, opts...)
}

// ---- 生命周期管理 ----

// ref 增加一个异步存活引用,必须持锁调用
func (e *engine) ref() {
	e.refcount++
}

// deref 释放一个保证不会归零的引用,必须持锁调用
func (e *engine) deref() {
	if e.refcount <= 1 {
		panic("streamio: 引用计数提前归零")
	}
	e.refcount--
}

// derefAndUnlock 是标准的引用释放原语:递减引用、释放锁,
// 归零时先排空定时器再释放全部资源,防止迟到的定时器回调触碰已释放的内存。
func (e *engine) derefAndUnlock() {
	if e.refcount == 0 {
		panic("streamio: 引用计数已为零")
	}
	e.refcount--
	count := e.refcount
	e.lock.Unlock()
	if count == 0 {
		if e.timer != nil {
			if err := e.timer.StopWithDone(e.timerStopped); err != osfn.ErrTimerNotRunning {
				return
			}
		}
		e.finishFree()
	}
}

// timerStopped 在定时器确认排空后执行最终释放
func (e *engine) timerStopped() {
	e.finishFree()
}

// finishFree 释放引擎拥有的全部资源,每项资源恰好释放一次
func (e *engine) finishFree() {
	log.Debugf("流水线 %s: 释放资源", e.id)
	if e.timer != nil {
		e.timer.Free()
		e.timer = nil
	}
	if e.deferredOpRunner != nil {
		e.deferredOpRunner.Free()
		e.deferredOpRunner = nil
	}
	if e.filter != nil {
		e.filter.Free()
		e.filter = nil
	}
	if e.ll != nil {
		e.ll.Free()
		e.ll = nil
	}
	if e.metrics != nil {
		e.metrics.Freed()
	}
}

// Ref 增加一个用户句柄引用
func (e *engine) Ref() {
	e.lock.Lock()
	e.freeref++
	e.lock.Unlock()
}

// Free 释放一个用户句柄引用。
// 最后一个句柄释放时,流水线按当前状态进入关闭路径,
// 关闭完成回调被清除(不再通知),并释放初始引用。
func (e *engine) Free() {
	e.lock.Lock()
	if e.freeref == 0 {
		panic("streamio: 重复释放用户句柄")
	}
	e.freeref--
	if e.freeref > 0 {
		e.lock.Unlock()
		return
	}

	switch {
	case e.state == stateInFilterClose || e.state == stateInLLClose:
		// 关闭已在路上,抑制完成通知即可
		e.closeDone = nil
	case e.state == stateInFilterOpen || e.state == stateInLLOpen:
		e.closeInternal(nil)
		// 未完成的打开持有的引用必须在此归还
		if e.openRefHeld {
			e.openRefHeld = false
			e.deref()
		}
	case e.state != stateClosed:
		e.closeInternal(nil)
	}
	// 释放初始引用,收尾完成后资源随之释放
	e.derefAndUnlock()
}

// ---- 过滤器包装:nil 过滤器等价于恒等过滤器 ----

func (e *engine) filterULReadPending() bool {
	if e.filter != nil {
		return e.filter.ULReadPending()
	}
	return false
}

func (e *engine) filterLLWritePending() bool {
	if e.filter != nil {
		return e.filter.LLWritePending()
	}
	return false
}

func (e *engine) filterLLReadNeeded() bool {
	if e.filter != nil {
		return e.filter.LLReadNeeded()
	}
	return false
}

// filterCheckOpenDone 给过滤器一个校验密钥之类的机会
func (e *engine) filterCheckOpenDone() error {
	if e.filter != nil {
		return e.filter.CheckOpenDone()
	}
	return nil
}

func (e *engine) filterTryConnect() (time.Duration, error) {
	if e.filter != nil {
		return e.filter.TryConnect()
	}
	return 0, nil
}

func (e *engine) filterTryDisconnect() (time.Duration, error) {
	if e.filter != nil {
		return e.filter.TryDisconnect()
	}
	return 0, nil
}

func (e *engine) filterULWrite(sink filter.DataHandler, buf []byte) (int, error) {
	if e.filter != nil {
		return e.filter.ULWrite(sink, buf)
	}
	return sink(buf)
}

func (e *engine) filterLLWrite(sink filter.DataHandler, buf []byte) (int, error) {
	if e.filter != nil {
		return e.filter.LLWrite(sink, buf)
	}
	return sink(buf)
}

func (e *engine) filterSetup() error {
	if e.filter != nil {
		return e.filter.Setup()
	}
	return nil
}

func (e *engine) filterCleanup() {
	if e.filter != nil {
		e.filter.Cleanup()
	}
}

// ---- 下层地址透传 ----

// RemoteAddr 返回下层的远端地址
func (e *engine) RemoteAddr() (net.Addr, error) {
	return e.ll.RemoteAddr()
}

// RemoteAddrString 返回下层远端地址的字符串形式
func (e *engine) RemoteAddrString() (string, error) {
	return e.ll.RemoteAddrString()
}

// RemoteID 返回下层的远端标识
func (e *engine) RemoteID() (int, error) {
	return e.ll.RemoteID()
}
