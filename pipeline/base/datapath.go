package base

import (
	"github.com/dep2p/streamio/core/stream"
)

// setLLEnables 按当前状态重算下层的读写回调使能。
// 每个公开入口和每个回调的收尾都要走到这里;此处只负责打开使能,
// 关闭动作在各回调入口完成。
func (e *engine) setLLEnables() {
	if e.filterLLWritePending() || e.xmitEnabled || e.tmpXmitEnabled {
		e.ll.SetWriteCallbackEnable(true)
	}
	if ((((e.readEnabled && !e.filterULReadPending()) ||
		e.filterLLReadNeeded()) && e.state == stateOpen) ||
		e.state == stateInFilterOpen ||
		e.state == stateInFilterClose) &&
		!e.inRead {
		e.ll.SetReadCallbackEnable(true)
	}
}

// writeDataHandler 是交给过滤器 ULWrite 的下层写出口,在持锁状态下调用
func (e *engine) writeDataHandler(buf []byte) (int, error) {
	return e.ll.Write(buf)
}

// readDataHandler 是交给过滤器 LLWrite 的上层投递出口。
// 过滤器写驱动在锁外进行,因此这里需要短暂持锁检查投递条件;
// 不满足条件时接受 0 字节,向过滤器施加背压。
func (e *engine) readDataHandler(buf []byte) (int, error) {
	e.lock.Lock()
	deliver := e.state == stateOpen && e.readEnabled && e.cbs != nil
	e.lock.Unlock()
	if !deliver {
		return 0, nil
	}

	count := e.cbs.Read(nil, buf, 0)
	if e.metrics != nil {
		e.metrics.BytesRead(count)
	}
	return count, nil
}

// Write 把上层字节交给过滤器编码写出,仅在打开状态合法
func (e *engine) Write(buf []byte) (int, error) {
	var count int
	var err error

	e.lock.Lock()
	switch {
	case e.state != stateOpen:
		err = stream.ErrNotOpen
	case e.savedXmitErr != nil:
		// 异步路径暂存的写错误在此消费,本次不再尝试写出
		err = e.savedXmitErr
		e.savedXmitErr = nil
	default:
		count, err = e.filterULWrite(e.writeDataHandler, buf)
		if err == nil && e.metrics != nil {
			e.metrics.BytesWritten(count)
		}
	}
	e.setLLEnables()
	e.lock.Unlock()

	return count, err
}

// llRead 处理下层的读取回调:错误按状态升级或上报,
// 数据经过滤器解码后投递给用户,返回消费的下层字节数。
func (e *engine) llRead(readErr error, buf []byte) int {
	e.lock.Lock()
	e.ll.SetReadCallbackEnable(false)
	if readErr != nil {
		log.Debugf("流水线 %s: 下层读取错误: %v", e.id, readErr)
		// 先关读使能,用户可以在回调里改回来
		e.readEnabled = false
		e.llErrOccurred = true
		if e.metrics != nil {
			e.metrics.LLError()
		}
		switch {
		case e.state == stateInFilterOpen || e.state == stateInLLOpen:
			// 下层打开不会再完成,其引用在此归还
			if e.openRefHeld {
				e.openRefHeld = false
				e.deref()
			}
			e.state = stateInLLClose
			e.llClose(func() {
				e.finishOpen(stream.ErrComm)
			})
		case e.state == stateCloseWaitDrain || e.state == stateInFilterClose:
			e.state = stateInLLClose
			e.llClose(e.finishClose)
		case e.cbs != nil:
			e.lock.Unlock()
			e.cbs.Read(readErr, nil, 0)
			e.lock.Lock()
		default:
			e.closeInternal(nil)
		}
		e.setLLEnables()
		e.lock.Unlock()
		return 0
	}

	if e.inRead {
		// 延迟读在途,交给它处理
		e.lock.Unlock()
		return 0
	}

	consumed := 0
	if len(buf) > 0 {
		e.inRead = true
		e.lock.Unlock()
		wr, err := e.filterLLWrite(e.readDataHandler, buf)
		e.lock.Lock()
		e.inRead = false
		if err != nil {
			e.savedXmitErr = err
			log.Errorf("流水线 %s: 过滤器解码失败: %v", e.id, err)
		}
		consumed = wr

		if e.state == stateInFilterOpen {
			e.tryConnect()
		}
		if e.state == stateInFilterClose {
			e.tryClose()
		}
	}

	e.setLLEnables()
	e.lock.Unlock()
	return consumed
}

// llWriteReady 处理下层的可写回调:驱动过滤器缓冲的下层字节写出,
// 推进排空等待,必要时投递用户可写回调。
func (e *engine) llWriteReady() {
	e.lock.Lock()
	e.ll.SetWriteCallbackEnable(false)
	if e.filterLLWritePending() {
		if _, err := e.filterULWrite(e.writeDataHandler, nil); err != nil {
			e.savedXmitErr = err
		}
	}

	if e.state == stateCloseWaitDrain && !e.filterLLWritePending() {
		e.state = stateInFilterClose
	}
	if e.state == stateInFilterOpen {
		e.tryConnect()
	}
	if e.state == stateInFilterClose {
		e.tryClose()
	}
	if e.state != stateInFilterOpen && !e.filterLLWritePending() &&
		e.xmitEnabled && e.cbs != nil {
		e.lock.Unlock()
		e.cbs.WriteReady()
		e.lock.Lock()
	}

	e.tmpXmitEnabled = false

	e.setLLEnables()
	e.lock.Unlock()
}

// llUrgent 处理下层的带外数据通知:有过滤器时交给过滤器,
// 否则直接转发给实现了 UrgentHandler 的用户回调
func (e *engine) llUrgent() {
	if e.filter != nil {
		e.filter.LLUrgent()
		return
	}
	if uh, ok := e.cbs.(stream.UrgentHandler); ok {
		uh.Urgent()
	}
}

// SetReadCallbackEnable 控制读回调的投递。
// 打开使能且过滤器已缓冲上层字节时,投递经由延迟读完成,
// inRead 保证投递期间不会再次调度。
func (e *engine) SetReadCallbackEnable(enabled bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.state == stateClosed || e.state == stateInFilterClose ||
		e.state == stateInLLClose {
		return
	}
	e.readEnabled = enabled
	readPending := e.filterULReadPending()
	switch {
	case e.inRead || e.state == stateInFilterOpen || e.state == stateInLLOpen ||
		(readPending && !enabled):
		// 交给读取/打开路径自行唤醒
	case readPending:
		e.inRead = true
		e.deferredRead = true
		e.schedDeferredOp()
	default:
		e.setLLEnables()
	}
}

// SetWriteCallbackEnable 控制可写回调的投递
func (e *engine) SetWriteCallbackEnable(enabled bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.state == stateClosed || e.state == stateInFilterClose ||
		e.state == stateInLLClose {
		return
	}
	if e.xmitEnabled != enabled {
		e.xmitEnabled = enabled
		e.setLLEnables()
	}
}
