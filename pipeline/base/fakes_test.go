package base

// 本文件提供确定性的测试替身:手工驱动的平台、可编排的下层与过滤器。
// 运行器和定时器都不自己调度,由测试在自己的上下文里触发,
// 从而把引擎的异步路径变成可单步推进的状态机。

import (
	"net"
	"sync"
	"time"

	"github.com/dep2p/streamio/core/filter"
	"github.com/dep2p/streamio/core/lower"
	"github.com/dep2p/streamio/core/osfn"
	"github.com/dep2p/streamio/core/stream"
)

// testFuncs 是手工驱动的平台
type testFuncs struct {
	mu      sync.Mutex
	runners []*testRunner
	timers  []*testTimer
}

var _ osfn.OSFuncs = &testFuncs{}

func newTestFuncs() *testFuncs {
	return &testFuncs{}
}

func (o *testFuncs) NewLock() sync.Locker {
	return &sync.Mutex{}
}

func (o *testFuncs) NewTimer(fn func()) osfn.Timer {
	t := &testTimer{fn: fn}
	o.mu.Lock()
	o.timers = append(o.timers, t)
	o.mu.Unlock()
	return t
}

func (o *testFuncs) NewRunner(fn func()) osfn.Runner {
	r := &testRunner{fn: fn}
	o.mu.Lock()
	o.runners = append(o.runners, r)
	o.mu.Unlock()
	return r
}

// flush 反复执行挂起的运行器,直到没有新的调度产生
func (o *testFuncs) flush() {
	for {
		progress := false
		o.mu.Lock()
		runners := append([]*testRunner(nil), o.runners...)
		o.mu.Unlock()
		for _, r := range runners {
			if r.takePending() {
				r.fn()
				progress = true
			}
		}
		if !progress {
			return
		}
	}
}

// timer 返回第 i 个定时器
func (o *testFuncs) timer(i int) *testTimer {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timers[i]
}

// testRunner 只记录调度,由 flush 执行
type testRunner struct {
	mu      sync.Mutex
	fn      func()
	pending bool
	freed   int
}

var _ osfn.Runner = &testRunner{}

func (r *testRunner) Run() {
	r.mu.Lock()
	r.pending = true
	r.mu.Unlock()
}

func (r *testRunner) Free() {
	r.mu.Lock()
	r.freed++
	r.mu.Unlock()
}

func (r *testRunner) takePending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.pending {
		return false
	}
	r.pending = false
	return true
}

// testTimer 只记录武装状态,由测试手工触发
type testTimer struct {
	mu    sync.Mutex
	fn    func()
	armed bool
	d     time.Duration
	freed int
}

var _ osfn.Timer = &testTimer{}

func (t *testTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.armed = true
	t.d = d
	t.mu.Unlock()
}

func (t *testTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.armed {
		return false
	}
	t.armed = false
	return true
}

func (t *testTimer) StopWithDone(done func()) error {
	t.mu.Lock()
	if !t.armed {
		t.mu.Unlock()
		return osfn.ErrTimerNotRunning
	}
	t.armed = false
	t.mu.Unlock()
	done()
	return nil
}

func (t *testTimer) Free() {
	t.mu.Lock()
	t.freed++
	t.mu.Unlock()
}

// fire 触发一次到期,未武装时不做任何事
func (t *testTimer) fire() bool {
	t.mu.Lock()
	if !t.armed {
		t.mu.Unlock()
		return false
	}
	t.armed = false
	t.mu.Unlock()
	t.fn()
	return true
}

// isArmed 报告定时器是否武装以及武装的超时
func (t *testTimer) isArmed() (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed, t.d
}

// fakeLL 是可编排的下层传输
type fakeLL struct {
	mu  sync.Mutex
	cbs lower.Callbacks

	// openErr 决定 Open 的结果:nil 立即完成,
	// stream.ErrInProgress 异步完成,其余立即失败
	openErr error
	// closeAsync 为 true 时 Close 返回 ErrInProgress,由 completeClose 收尾
	closeAsync bool

	openDone  lower.OpenDone
	closeDone lower.CloseDone

	writes  []byte
	writeFn func(buf []byte) (int, error)

	readEnable  bool
	writeEnable bool

	freed  int
	closes int
}

var _ lower.Layer = &fakeLL{}

func newFakeLL() *fakeLL {
	return &fakeLL{}
}

func (l *fakeLL) Open(done lower.OpenDone) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.openErr == stream.ErrInProgress {
		l.openDone = done
		return stream.ErrInProgress
	}
	return l.openErr
}

func (l *fakeLL) Close(done lower.CloseDone) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	// 关闭取消在途的打开,其完成回调不再投递
	l.openDone = nil
	if l.closeAsync {
		l.closeDone = done
		return stream.ErrInProgress
	}
	return nil
}

func (l *fakeLL) Write(buf []byte) (int, error) {
	l.mu.Lock()
	fn := l.writeFn
	l.mu.Unlock()
	if fn != nil {
		return fn(buf)
	}
	l.mu.Lock()
	l.writes = append(l.writes, buf...)
	l.mu.Unlock()
	return len(buf), nil
}

func (l *fakeLL) SetReadCallbackEnable(enabled bool) {
	l.mu.Lock()
	l.readEnable = enabled
	l.mu.Unlock()
}

func (l *fakeLL) SetWriteCallbackEnable(enabled bool) {
	l.mu.Lock()
	l.writeEnable = enabled
	l.mu.Unlock()
}

func (l *fakeLL) SetCallbacks(cbs lower.Callbacks) {
	l.mu.Lock()
	l.cbs = cbs
	l.mu.Unlock()
}

func (l *fakeLL) RemoteAddr() (net.Addr, error) {
	return &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 4217}, nil
}

func (l *fakeLL) RemoteAddrString() (string, error) {
	return "192.0.2.1:4217", nil
}

func (l *fakeLL) RemoteID() (int, error) {
	return 7, nil
}

func (l *fakeLL) Free() {
	l.mu.Lock()
	l.freed++
	l.mu.Unlock()
}

// completeOpen 投递异步打开的完成
func (l *fakeLL) completeOpen(err error) {
	l.mu.Lock()
	done := l.openDone
	l.openDone = nil
	l.mu.Unlock()
	if done != nil {
		done(err)
	}
}

// completeClose 投递异步关闭的完成
func (l *fakeLL) completeClose() {
	l.mu.Lock()
	done := l.closeDone
	l.closeDone = nil
	l.mu.Unlock()
	if done != nil {
		done()
	}
}

// deliverRead 模拟下层投递读取事件
func (l *fakeLL) deliverRead(err error, buf []byte) int {
	l.mu.Lock()
	cbs := l.cbs
	l.mu.Unlock()
	return cbs.Read(err, buf)
}

// deliverWriteReady 模拟下层投递可写事件
func (l *fakeLL) deliverWriteReady() {
	l.mu.Lock()
	cbs := l.cbs
	l.mu.Unlock()
	cbs.WriteReady()
}

// deliverUrgent 模拟下层投递带外数据事件
func (l *fakeLL) deliverUrgent() {
	l.mu.Lock()
	cbs := l.cbs
	l.mu.Unlock()
	cbs.Urgent()
}

// written 返回下层累计接受的字节
func (l *fakeLL) written() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte(nil), l.writes...)
}

// enables 返回当前的读写使能位
func (l *fakeLL) enables() (read, write bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readEnable, l.writeEnable
}

// filterStep 是一轮握手的脚本结果
type filterStep struct {
	d   time.Duration
	err error
}

// fakeFilter 是可编排的过滤器,默认行为是恒等转发
type fakeFilter struct {
	mu  sync.Mutex
	cbs filter.Callbacks

	connectSteps    []filterStep
	disconnectSteps []filterStep
	checkOpenErr    error
	setupErr        error

	llPending  []byte
	ulWriteErr error

	setups   int
	cleanups int
	frees    int
}

var _ filter.Filter = &fakeFilter{}

func newFakeFilter() *fakeFilter {
	return &fakeFilter{}
}

func (f *fakeFilter) SetCallbacks(cbs filter.Callbacks) {
	f.mu.Lock()
	f.cbs = cbs
	f.mu.Unlock()
}

func (f *fakeFilter) Setup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setups++
	return f.setupErr
}

func (f *fakeFilter) Cleanup() {
	f.mu.Lock()
	f.cleanups++
	f.mu.Unlock()
}

func (f *fakeFilter) Free() {
	f.mu.Lock()
	f.frees++
	f.mu.Unlock()
}

func (f *fakeFilter) ULReadPending() bool {
	return false
}

func (f *fakeFilter) LLWritePending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.llPending) > 0
}

func (f *fakeFilter) LLReadNeeded() bool {
	return false
}

func (f *fakeFilter) CheckOpenDone() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkOpenErr
}

func (f *fakeFilter) TryConnect() (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connectSteps) == 0 {
		return 0, nil
	}
	step := f.connectSteps[0]
	f.connectSteps = f.connectSteps[1:]
	return step.d, step.err
}

func (f *fakeFilter) TryDisconnect() (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.disconnectSteps) == 0 {
		return 0, nil
	}
	step := f.disconnectSteps[0]
	f.disconnectSteps = f.disconnectSteps[1:]
	return step.d, step.err
}

func (f *fakeFilter) ULWrite(sink filter.DataHandler, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ulWriteErr != nil {
		err := f.ulWriteErr
		f.ulWriteErr = nil
		return 0, err
	}

	f.llPending = append(f.llPending, buf...)
	accepted := len(buf)
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
			break
		}
	}
	if len(f.llPending) > 0 && f.cbs != nil {
		f.cbs.OutputReady()
	}
	return accepted, nil
}

func (f *fakeFilter) LLWrite(sink filter.DataHandler, buf []byte) (int, error) {
	// 恒等解码:投递多少就消费多少,剩余的留给下层重投
	return sink(buf)
}

func (f *fakeFilter) LLUrgent() {}

// preloadLL 预置待写出的下层字节,模拟编码残留
func (f *fakeFilter) preloadLL(buf []byte) {
	f.mu.Lock()
	f.llPending = append(f.llPending, buf...)
	f.mu.Unlock()
}

// counts 返回 Setup/Cleanup/Free 的调用次数
func (f *fakeFilter) counts() (setups, cleanups, frees int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setups, f.cleanups, f.frees
}

// userCBs 是记录式的用户回调
type userCBs struct {
	mu         sync.Mutex
	reads      [][]byte
	readErrs   []error
	writeReady int
	urgent     int

	// consume 控制 Read 的消费量,nil 表示全部消费
	consume func(buf []byte) int
	// onRead 在记录之后调用,用于测试回调重入
	onRead func()
}

var _ stream.Callbacks = &userCBs{}

func newUserCBs() *userCBs {
	return &userCBs{}
}

func (u *userCBs) Read(err error, buf []byte, flags stream.ReadFlags) int {
	u.mu.Lock()
	consume := u.consume
	onRead := u.onRead
	u.mu.Unlock()

	if err != nil {
		u.mu.Lock()
		u.readErrs = append(u.readErrs, err)
		u.mu.Unlock()
		if onRead != nil {
			onRead()
		}
		return 0
	}

	n := len(buf)
	if consume != nil {
		n = consume(buf)
	}
	if n > 0 {
		u.mu.Lock()
		u.reads = append(u.reads, append([]byte(nil), buf[:n]...))
		u.mu.Unlock()
	}
	if onRead != nil {
		onRead()
	}
	return n
}

func (u *userCBs) WriteReady() {
	u.mu.Lock()
	u.writeReady++
	u.mu.Unlock()
}

func (u *userCBs) Urgent() {
	u.mu.Lock()
	u.urgent++
	u.mu.Unlock()
}

// readData 返回已投递数据的拼接
func (u *userCBs) readData() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []byte
	for _, r := range u.reads {
		out = append(out, r...)
	}
	return out
}

// counters 返回可写与带外回调的次数
func (u *userCBs) counters() (writeReady, urgent int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.writeReady, u.urgent
}

// readErrors 返回投递过的读取错误
func (u *userCBs) readErrors() []error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]error(nil), u.readErrs...)
}
