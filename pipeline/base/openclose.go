package base

import (
	"time"

	"github.com/dep2p/streamio/core/filter"
	"github.com/dep2p/streamio/core/stream"
)

// llClose 发起下层关闭并登记收尾动作 done。
// 异步完成时由下层回调执行收尾;立即完成时转入延迟派发,
// 保证收尾总是从引擎自身的调度上下文发出。
func (e *engine) llClose(done func()) {
	e.llCloseDone = done
	err := e.ll.Close(e.llCloseDoneCB)
	if err == stream.ErrInProgress {
		e.ref()
		return
	}
	e.deferredClose = true
	e.schedDeferredOp()
}

// llCloseDoneCB 是下层异步关闭的完成回调
func (e *engine) llCloseDoneCB() {
	e.lock.Lock()
	if done := e.llCloseDone; done != nil {
		e.llCloseDone = nil
		done()
	}
	e.derefAndUnlock()
}

// finishClose 把流水线收束到关闭状态并投递关闭完成回调
func (e *engine) finishClose() {
	e.filterCleanup()
	e.state = stateClosed
	log.Debugf("流水线 %s: 已关闭", e.id)
	if e.metrics != nil {
		e.metrics.Closed()
	}
	if e.closeDone != nil {
		done := e.closeDone
		e.lock.Unlock()
		done()
		e.lock.Lock()
	}
}

// finishOpen 结束一次打开:失败时清理过滤器并回到关闭状态,
// 成功时进入打开状态,随后投递打开完成回调
func (e *engine) finishOpen(err error) {
	if err != nil {
		e.state = stateClosed
		e.filterCleanup()
		log.Debugf("流水线 %s: 打开失败: %v", e.id, err)
	} else {
		e.state = stateOpen
		log.Debugf("流水线 %s: 已打开", e.id)
	}
	if e.metrics != nil {
		e.metrics.OpenCompleted(err, time.Since(e.openStart))
	}

	if e.openDone != nil {
		done := e.openDone
		e.lock.Unlock()
		done(err)
		e.lock.Lock()
	}
}

// tryConnect 推进一轮过滤器握手。
// 定时器、下层读和下层可写都可能同时驱动到这里,
// 状态不再匹配时直接返回,避免多余的推进。
func (e *engine) tryConnect() {
	if e.state != stateInFilterOpen {
		return
	}

	e.ll.SetWriteCallbackEnable(false)
	e.ll.SetReadCallbackEnable(false)

	timeout, err := e.filterTryConnect()
	if err == stream.ErrInProgress {
		return
	}
	if err == stream.ErrAgain {
		e.timer.Start(timeout)
		return
	}

	if err == nil {
		err = e.filterCheckOpenDone()
	}

	if err != nil {
		e.state = stateInLLClose
		finalErr := err
		e.llClose(func() {
			e.finishOpen(finalErr)
		})
	} else {
		e.finishOpen(nil)
	}
}

// llOpenDone 是下层异步打开的完成回调
func (e *engine) llOpenDone(err error) {
	e.lock.Lock()
	e.openRefHeld = false
	if err != nil {
		e.finishOpen(err)
	} else {
		e.state = stateInFilterOpen
		e.tryConnect()
		e.setLLEnables()
	}
	e.derefAndUnlock()
}

// Open 发起流水线打开
func (e *engine) Open(done stream.OpenDone) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.state != stateClosed {
		return stream.ErrBusy
	}

	if err := e.filterSetup(); err != nil {
		return err
	}

	e.inRead = false
	e.deferredRead = false
	e.deferredOpen = false
	e.deferredClose = false
	e.readEnabled = false
	e.xmitEnabled = false
	e.llErrOccurred = false
	e.savedXmitErr = nil

	e.openDone = done
	e.openStart = time.Now()

	err := e.ll.Open(e.llOpenDone)
	switch {
	case err == nil:
		// 下层立即就绪,握手从延迟派发上下文发起,
		// 避免在调用方的栈里投递 openDone
		e.state = stateInFilterOpen
		e.deferredOpen = true
		e.schedDeferredOp()
	case err == stream.ErrInProgress:
		e.state = stateInLLOpen
		e.ref()
		e.openRefHeld = true
	default:
		e.filterCleanup()
		return err
	}
	return nil
}

// tryClose 推进一轮过滤器断开握手,完成后转入下层关闭
func (e *engine) tryClose() {
	e.ll.SetWriteCallbackEnable(false)
	e.ll.SetReadCallbackEnable(false)

	timeout, err := e.filterTryDisconnect()
	if err == stream.ErrInProgress {
		return
	}
	if err == stream.ErrAgain {
		e.timer.Start(timeout)
		return
	}
	if err != nil {
		// 断开握手失败不阻碍收敛,关闭必须抵达关闭状态
		log.Errorf("流水线 %s: 过滤器断开失败: %v", e.id, err)
	}

	e.state = stateInLLClose
	e.llClose(e.finishClose)
}

// closeInternal 把流水线转入合适的关闭路径。
// 下层已出错时跳过排空和过滤器断开,直接关闭下层。
func (e *engine) closeInternal(done stream.CloseDone) {
	e.closeDone = done
	if e.llErrOccurred {
		e.state = stateInLLClose
		e.llClose(e.finishClose)
	} else if e.filterLLWritePending() {
		e.state = stateCloseWaitDrain
	} else {
		e.state = stateInFilterClose
		e.tryClose()
	}
	e.setLLEnables()
}

// Close 发起流水线关闭。
// 打开尚未完成时调用会接管未完成的打开,并归还打开持有的引用。
func (e *engine) Close(done stream.CloseDone) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.state != stateOpen {
		if e.state == stateInFilterOpen || e.state == stateInLLOpen {
			e.closeInternal(done)
			if e.openRefHeld {
				e.openRefHeld = false
				e.deref()
			}
			return nil
		}
		return stream.ErrBusy
	}
	e.closeInternal(done)
	return nil
}

// timeout 是引擎定时器回调,按当前状态分派
func (e *engine) timeout() {
	e.lock.Lock()
	switch e.state {
	case stateInFilterOpen:
		e.tryConnect()

	case stateInFilterClose:
		e.tryClose()

	case stateOpen:
		if th, ok := e.filter.(filter.TimeoutHandler); ok {
			e.lock.Unlock()
			th.Timeout()
			e.lock.Lock()
		}

	default:
		// 其余状态的迟到超时直接忽略
	}
	e.setLLEnables()
	e.lock.Unlock()
}
