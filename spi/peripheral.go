package spi

import (
	"runtime"
	"sync"
	"sync/atomic"

	"spihost-go/errcode"
	"spihost-go/spihw"
	"spihost-go/x/mathx"
)

// rxWatermarkHeadroom is how many words of RX FIFO space are kept free
// below the watermark so the controller never stalls between the event
// firing and the drain.
const rxWatermarkHeadroom = 12

// peripheral is the per-controller transaction slot. The mutex covers
// everything from arming a transaction to issuing its first command, so
// the event dispatchers can never observe a half-built slot; state is
// additionally kept in an atomic so callbacks may read it without taking
// the lock.
type peripheral struct {
	hw   spihw.Controller
	mu   sync.Mutex
	cond *sync.Cond

	state atomic.Uint32

	claimed []bool // chip selects held by open handles

	segs []Segment
	txb  []uint32
	rxb  []uint32
	scnt uint32 // segments issued
	wcnt uint32 // TX words written
	rcnt uint32 // RX words read
	cbs  Callbacks
}

func newPeripheral(hw spihw.Controller) *peripheral {
	p := &peripheral{
		hw:      hw,
		claimed: make([]bool, hw.Params().NumChipSelects),
	}
	p.cond = sync.NewCond(&p.mu)
	hw.SetEventHandler(p.eventISR)
	hw.SetErrorHandler(p.errorISR)
	return p
}

func (p *peripheral) loadState() State { return State(p.state.Load()) }

// launch arms the slot and issues the first command. Called with p.mu
// held; the caller has already validated the transaction and configured
// the slave.
func (p *peripheral) launch(segs []Segment, tx, rx []uint32, cbs Callbacks) {
	p.state.Store(uint32(StateBusy))
	p.segs = segs
	p.txb = tx
	p.rxb = rx
	p.scnt, p.wcnt, p.rcnt = 0, 0, 0
	p.cbs = cbs

	par := p.hw.Params()
	rxWM := mathx.Clamp(int(par.RxDepth)-rxWatermarkHeadroom, 1, int(par.RxDepth)-1)
	p.hw.SetWatermarks(par.TxDepth/4, uint8(rxWM))

	p.fillTx()

	p.hw.EnableEvents(spihw.EventIdle|spihw.EventReady|spihw.EventTxWM|spihw.EventRxWM, true)
	p.hw.EnableEventInterrupt(true)

	for !p.hw.Status().Ready {
		runtime.Gosched()
	}
	p.issueSegment(0)
	p.scnt = 1
}

// issueSegment queues segment i, keeping chip-select asserted for every
// segment but the last. Queue-full errors surface through the error
// interrupt, not here.
func (p *peripheral) issueSegment(i uint32) {
	sg := p.segs[i]
	_ = p.hw.SetCommand(spihw.Command{
		LenMinusOne: sg.Len - 1,
		CSAAT:       i < uint32(len(p.segs))-1,
		Speed:       sg.Speed,
		Dir:         sg.Dir,
	})
}

// fillTx copies pending TX words into the FIFO until it fills up or the
// buffer runs out. Never blocks.
func (p *peripheral) fillTx() {
	for p.wcnt < uint32(len(p.txb)) && p.hw.WriteWord(p.txb[p.wcnt]) {
		p.wcnt++
	}
}

// emptyRx drains received words into the RX buffer until the FIFO is
// empty or the buffer is full. Never blocks.
func (p *peripheral) emptyRx() {
	for p.rcnt < uint32(len(p.rxb)) {
		w, ok := p.hw.ReadWord()
		if !ok {
			break
		}
		p.rxb[p.rcnt] = w
		p.rcnt++
	}
}

// eventISR is the event interrupt trampoline. The unlocked state check
// drops stray events cheaply; onEvent re-checks under the lock.
func (p *peripheral) eventISR(ev spihw.Event) {
	if p.loadState() != StateBusy {
		return
	}
	p.onEvent(ev)
}

// errorISR is the error interrupt trampoline.
func (p *peripheral) errorISR(er spihw.Error) {
	if p.loadState() != StateBusy {
		return
	}
	p.onError(er)
}

// onEvent advances the transaction. The conditions are independent: one
// invocation may issue a command, refill TX and drain RX.
func (p *peripheral) onEvent(ev spihw.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadState() != StateBusy {
		return
	}
	if ev&spihw.EventReady != 0 && p.scnt < uint32(len(p.segs)) {
		p.issueSegment(p.scnt)
		p.scnt++
	} else if ev&spihw.EventReady != 0 && ev&spihw.EventIdle != 0 {
		p.finish()
		return
	}
	if ev&spihw.EventTxWM != 0 {
		p.fillTx()
		if p.cbs.TxWatermark != nil {
			p.cbs.TxWatermark(p.txb, p.rxb)
		}
	}
	if ev&spihw.EventRxWM != 0 {
		p.emptyRx()
		if p.cbs.RxWatermark != nil {
			p.cbs.RxWatermark(p.txb, p.rxb)
		}
	}
}

// finish completes the transaction: final RX drain, Done state, done
// callback, slot reset. Called with p.mu held.
func (p *peripheral) finish() {
	p.hw.EnableEvents(spihw.EventAll, false)
	p.hw.EnableEventInterrupt(false)
	p.emptyRx()
	p.state.Store(uint32(StateDone))
	if p.cbs.Done != nil {
		p.cbs.Done(p.txb, p.rxb)
	}
	p.resetSlot()
	p.cond.Broadcast()
}

// onError aborts the transaction on a hardware error interrupt.
func (p *peripheral) onError(er spihw.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadState() != StateBusy {
		return
	}
	p.hw.EnableEvents(spihw.EventAll, false)
	p.hw.EnableEventInterrupt(false)
	p.state.Store(uint32(StateError))
	if p.cbs.Error != nil {
		p.cbs.Error(p.txb, p.rxb)
	}
	p.resetSlot()
	p.cond.Broadcast()
}

// resetSlot clears the transaction bookkeeping. The terminal state is
// left in place until the next launch.
func (p *peripheral) resetSlot() {
	p.segs = nil
	p.txb = nil
	p.rxb = nil
	p.scnt, p.wcnt, p.rcnt = 0, 0, 0
	p.cbs = Callbacks{}
}

// wait blocks until the slot leaves Busy.
func (p *peripheral) wait() {
	p.mu.Lock()
	for p.loadState() == StateBusy {
		p.cond.Wait()
	}
	p.mu.Unlock()
}

// setSlave writes the per-chip-select configuration and selects the
// slave. Called with p.mu held.
func (p *peripheral) setSlave(s Slave) errcode.Code {
	if p.hw.Status().Active {
		return errcode.NotIdle
	}
	conf := spihw.PackConfigOpts(spihw.ConfigOpts{
		ClkDiv:    clockDivisor(p.hw.Params().SysClockHz, s.FreqHz),
		CSNIdle:   s.CSNIdle,
		CSNTrail:  s.CSNTrail,
		CSNLead:   s.CSNLead,
		FullCycle: s.FullCycle,
		CPHA:      s.DataMode.cpha(),
		CPOL:      s.DataMode.cpol(),
	})
	if err := p.hw.SetConfigOpts(s.CSID, conf); err != nil {
		return errcode.SlaveInvalid
	}
	if err := p.hw.SetChipSelect(s.CSID); err != nil {
		return errcode.SlaveInvalid
	}
	return errcode.OK
}
