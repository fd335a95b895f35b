package base

// 延迟派发:所有用户可见的回调都必须从一个既不持引擎锁、
// 也不在下层/过滤器回调栈内的上下文发出,否则用户在回调里
// 重入 Close/Free 会死锁或破坏状态。

// schedDeferredOp 调度一次延迟派发,幂等:已有派发在途时不再入队
func (e *engine) schedDeferredOp() {
	if !e.deferredOpPending {
		e.deferredOpPending = true
		e.ref()
		e.deferredOpRunner.Run()
	}
}

// deferredOp 是运行器回调,循环处理全部已置位的延迟标志
func (e *engine) deferredOp() {
	e.lock.Lock()
	for {
		if e.deferredOpen {
			e.deferredOpen = false
			e.tryConnect()
		}

		if e.deferredClose {
			e.deferredClose = false
			if done := e.llCloseDone; done != nil {
				e.llCloseDone = nil
				done()
			} else {
				e.finishClose()
			}
		}

		if e.deferredRead {
			if e.state != stateOpen {
				// 打开状态已经不在,丢弃这次读,deferredRead 由下次 Open 复位
				break
			}
			e.deferredRead = false

			e.lock.Unlock()
			_, err := e.filterLLWrite(e.readDataHandler, nil)
			e.lock.Lock()

			e.inRead = false
			if err != nil {
				// 过滤器冲刷失败,暂存到下一次写时上报
				e.savedXmitErr = err
				log.Errorf("流水线 %s: 延迟读驱动过滤器失败: %v", e.id, err)
			}
		}

		if !(e.deferredRead || e.deferredOpen || e.deferredClose) {
			break
		}
	}

	e.deferredOpPending = false
	e.setLLEnables()
	e.derefAndUnlock()
}
