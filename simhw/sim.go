// Package simhw is a behavioural simulation of an SPI host controller
// behind the spihw.Controller interface. A worker goroutine stands in for
// the shift register and the interrupt line: it drains commands from the
// queue, moves words through the FIFOs with the same stall behaviour as the
// hardware, and invokes the installed handlers the way an ISR would.
//
// The simulator is used by the engine tests and the demo binary; test
// hooks (Hold, FeedRx, InjectError, Stats) are not part of the
// spihw.Controller contract.
package simhw

import (
	"sync"

	"spihost-go/spihw"
	"spihost-go/x/mathx"
)

const bytesPerWord = 4

// Stats counts register-level traffic for assertions on the driver's
// behaviour. RegWrites covers every state-changing register access.
type Stats struct {
	RegWrites    int
	WordWrites   int
	WordReads    int
	ConfigWrites int
	Commands     []spihw.Command
	TxWords      []uint32 // words the engine shifted out, in order
}

// Controller is a simulated SPI host instance.
type Controller struct {
	mu   sync.Mutex
	cond *sync.Cond

	params spihw.Params

	enabled   bool
	outputEn  bool
	held      bool
	stopped   bool
	active    bool
	txStall   bool
	rxStall   bool
	csid      uint8
	configs   []uint32
	txWM      uint8
	rxWM      uint8
	txwmLevel bool
	rxwmLevel bool

	txq  []uint32
	rxq  []uint32
	cmdq []spihw.Command
	feed []uint32

	evEnable   spihw.Event
	erEnable   spihw.Error
	evIntr     bool
	erIntr     bool
	evHandler  func(spihw.Event)
	erHandler  func(spihw.Error)
	pendingErr spihw.Error

	stats Stats
}

// DefaultParams mirrors the FIFO geometry of the reference hardware.
var DefaultParams = spihw.Params{
	TxDepth:        72,
	RxDepth:        64,
	CmdDepth:       4,
	NumChipSelects: 2,
	SysClockHz:     100_000_000,
}

// New returns a running simulator with DefaultParams.
func New() *Controller { return NewWithParams(DefaultParams) }

// NewWithParams returns a running simulator with the given geometry.
// Call Close to stop its worker goroutine.
func NewWithParams(p spihw.Params) *Controller {
	c := &Controller{
		params:  p,
		configs: make([]uint32, p.NumChipSelects),
	}
	c.cond = sync.NewCond(&c.mu)
	go c.run()
	return c
}

// Close stops the worker goroutine. The controller must not be used after.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Controller) Params() spihw.Params { return c.params }

func (c *Controller) Status() spihw.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return spihw.Status{
		TxQueueDepth:  uint8(len(c.txq)),
		RxQueueDepth:  uint8(len(c.rxq)),
		CmdQueueDepth: uint8(len(c.cmdq)),
		TxEmpty:       len(c.txq) == 0,
		TxFull:        len(c.txq) >= int(c.params.TxDepth),
		TxStall:       c.txStall,
		TxWatermark:   c.txBelowWM(),
		RxEmpty:       len(c.rxq) == 0,
		RxFull:        len(c.rxq) >= int(c.params.RxDepth),
		RxStall:       c.rxStall,
		RxWatermark:   c.rxAtWM(),
		Active:        c.active,
		Ready:         c.readyLocked(),
	}
}

func (c *Controller) readyLocked() bool {
	return c.enabled && len(c.cmdq) < int(c.params.CmdDepth)
}

func (c *Controller) txBelowWM() bool { return c.txWM > 0 && len(c.txq) < int(c.txWM) }
func (c *Controller) rxAtWM() bool    { return c.rxWM > 0 && len(c.rxq) >= int(c.rxWM) }

// WriteWord pushes one word into the TX FIFO; false when full. Watermark
// level state is updated silently, events are raised from worker context
// only.
func (c *Controller) WriteWord(w uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.txq) >= int(c.params.TxDepth) {
		return false
	}
	c.txq = append(c.txq, w)
	c.txwmLevel = c.txBelowWM()
	c.stats.RegWrites++
	c.stats.WordWrites++
	c.cond.Broadcast()
	return true
}

// ReadWord pops one word from the RX FIFO; false when empty.
func (c *Controller) ReadWord() (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.rxq) == 0 {
		return 0, false
	}
	w := c.rxq[0]
	c.rxq = c.rxq[1:]
	c.rxwmLevel = c.rxAtWM()
	c.stats.WordReads++
	c.cond.Broadcast()
	return w, true
}

// SetCommand queues one command segment. When the controller is disabled
// or the queue is full the command is dropped, a CmdBusy error is raised
// and ErrCmdQueueFull returned.
func (c *Controller) SetCommand(cmd spihw.Command) error {
	if !spihw.ValidMode(cmd.Dir, cmd.Speed) {
		return spihw.ErrInvalidSpeed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.RegWrites++
	if !c.readyLocked() {
		c.pendingErr |= spihw.ErrorCmdBusy
		c.cond.Broadcast()
		return spihw.ErrCmdQueueFull
	}
	c.cmdq = append(c.cmdq, cmd)
	c.stats.Commands = append(c.stats.Commands, cmd)
	c.cond.Broadcast()
	return nil
}

func (c *Controller) SetConfigOpts(csid uint8, conf uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if csid >= c.params.NumChipSelects {
		return spihw.ErrInvalidCSID
	}
	c.configs[csid] = conf
	c.stats.RegWrites++
	c.stats.ConfigWrites++
	return nil
}

func (c *Controller) SetChipSelect(csid uint8) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if csid >= c.params.NumChipSelects {
		return spihw.ErrInvalidCSID
	}
	c.csid = csid
	c.stats.RegWrites++
	return nil
}

func (c *Controller) SetWatermarks(tx, rx uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txWM, c.rxWM = tx, rx
	c.txwmLevel = c.txBelowWM()
	c.rxwmLevel = c.rxAtWM()
	c.stats.RegWrites++
}

func (c *Controller) EnableEvents(ev spihw.Event, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.evEnable |= ev
	} else {
		c.evEnable &^= ev
	}
	c.stats.RegWrites++
}

func (c *Controller) EnableErrors(er spihw.Error, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.erEnable |= er
	} else {
		c.erEnable &^= er
	}
	c.stats.RegWrites++
}

func (c *Controller) EnableEventInterrupt(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evIntr = on
	c.stats.RegWrites++
}

func (c *Controller) EnableErrorInterrupt(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.erIntr = on
	c.stats.RegWrites++
}

func (c *Controller) SetEnable(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = on
	c.stats.RegWrites++
	c.cond.Broadcast()
}

func (c *Controller) SetOutputEnable(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputEn = on
	c.stats.RegWrites++
}

// SoftReset drains the FIFOs and the command queue and clears the stall
// flags. Enables, handlers and the feed queue are left alone.
func (c *Controller) SoftReset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txq = nil
	c.rxq = nil
	c.cmdq = nil
	c.active = false
	c.txStall = false
	c.rxStall = false
	c.txwmLevel = c.txBelowWM()
	c.rxwmLevel = c.rxAtWM()
	c.stats.RegWrites++
}

func (c *Controller) SetEventHandler(fn func(spihw.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evHandler = fn
}

func (c *Controller) SetErrorHandler(fn func(spihw.Error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.erHandler = fn
}

// FeedRx queues words that receive-only segments will shift in. An empty
// feed yields zero words, like an undriven bus.
func (c *Controller) FeedRx(words ...uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feed = append(c.feed, words...)
}

// Hold pauses the worker before it pops the next command; queued commands
// stay pending so callers can observe the busy window deterministically.
func (c *Controller) Hold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held = true
}

// Resume lets a held worker continue.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held = false
	c.cond.Broadcast()
}

// InjectError raises hardware error sources. Delivery goes through the
// worker so the handler runs in the same context as real interrupts, and
// works even while the worker is held.
func (c *Controller) InjectError(er spihw.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingErr |= er
	c.cond.Broadcast()
}

// Stats returns a snapshot of the traffic counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Commands = append([]spihw.Command(nil), c.stats.Commands...)
	s.TxWords = append([]uint32(nil), c.stats.TxWords...)
	return s
}

// run is the worker goroutine: the shift register plus the interrupt line.
// Handlers are always invoked with the simulator lock released.
func (c *Controller) run() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		for !c.stopped && c.pendingErr == 0 && (c.held || len(c.cmdq) == 0 || !c.enabled) {
			c.cond.Wait()
		}
		if c.stopped {
			return
		}
		if c.pendingErr != 0 {
			er := c.pendingErr
			c.pendingErr = 0
			c.raiseError(er)
			continue
		}
		cmd := c.cmdq[0]
		c.cmdq = c.cmdq[1:]
		c.active = true
		c.process(cmd)
	}
}

// process runs one command segment word by word. Called with the lock
// held; releases it around every handler invocation.
func (c *Controller) process(cmd spihw.Command) {
	words := mathx.CeilDiv(cmd.LenMinusOne+1, bytesPerWord)
	for i := uint32(0); i < words; i++ {
		var ev spihw.Event
		switch cmd.Dir {
		case spihw.DirDummy:
			// Clock cycles only.
		case spihw.DirTx:
			if !c.popTx() {
				return
			}
			ev |= c.txEdges()
		case spihw.DirRx:
			if !c.pushRx(c.nextFeed()) {
				return
			}
			ev |= c.rxEdges()
		case spihw.DirBidir:
			if !c.popTxInto(func(w uint32) bool { return c.pushRx(w) }) {
				return
			}
			ev |= c.txEdges() | c.rxEdges()
		}
		c.raiseEvents(ev)
	}
	done := spihw.EventReady
	if !cmd.CSAAT && len(c.cmdq) == 0 {
		done |= spihw.EventIdle
	}
	c.active = false
	c.raiseEvents(done)
}

func (c *Controller) nextFeed() uint32 {
	if len(c.feed) == 0 {
		return 0
	}
	w := c.feed[0]
	c.feed = c.feed[1:]
	return w
}

// popTx removes one word from the TX FIFO, stalling until data arrives.
// Returns false when the simulator is stopped or reset mid-wait.
func (c *Controller) popTx() bool {
	_, ok := c.takeTx()
	return ok
}

func (c *Controller) takeTx() (uint32, bool) {
	for len(c.txq) == 0 {
		c.txStall = true
		c.cond.Wait()
		if c.stopped || !c.active {
			c.txStall = false
			return 0, false
		}
	}
	c.txStall = false
	w := c.txq[0]
	c.txq = c.txq[1:]
	c.stats.TxWords = append(c.stats.TxWords, w)
	return w, true
}

// popTxInto takes a TX word and hands it to sink, for full-duplex echo.
func (c *Controller) popTxInto(sink func(uint32) bool) bool {
	w, ok := c.takeTx()
	if !ok {
		return false
	}
	return sink(w)
}

// pushRx appends one word to the RX FIFO, stalling while it is full.
func (c *Controller) pushRx(w uint32) bool {
	for len(c.rxq) >= int(c.params.RxDepth) {
		c.rxStall = true
		c.cond.Wait()
		if c.stopped || !c.active {
			c.rxStall = false
			return false
		}
	}
	c.rxStall = false
	c.rxq = append(c.rxq, w)
	return true
}

// txEdges reports watermark and empty edges after a TX word was consumed.
func (c *Controller) txEdges() spihw.Event {
	var ev spihw.Event
	below := c.txBelowWM()
	if below && !c.txwmLevel {
		ev |= spihw.EventTxWM
	}
	c.txwmLevel = below
	if len(c.txq) == 0 {
		ev |= spihw.EventTxEmpty
	}
	return ev
}

// rxEdges reports watermark and full edges after an RX word was produced.
func (c *Controller) rxEdges() spihw.Event {
	var ev spihw.Event
	at := c.rxAtWM()
	if at && !c.rxwmLevel {
		ev |= spihw.EventRxWM
	}
	c.rxwmLevel = at
	if len(c.rxq) >= int(c.params.RxDepth) {
		ev |= spihw.EventRxFull
	}
	return ev
}

// raiseEvents delivers enabled event sources to the handler with the lock
// released. No-op when the event interrupt is masked.
func (c *Controller) raiseEvents(ev spihw.Event) {
	ev &= c.evEnable
	if ev == 0 || !c.evIntr || c.evHandler == nil {
		return
	}
	fn := c.evHandler
	c.mu.Unlock()
	fn(ev)
	c.mu.Lock()
}

// raiseError delivers enabled error sources to the handler with the lock
// released.
func (c *Controller) raiseError(er spihw.Error) {
	er &= c.erEnable
	if er == 0 || !c.erIntr || c.erHandler == nil {
		return
	}
	fn := c.erHandler
	c.mu.Unlock()
	fn(er)
	c.mu.Lock()
}

var _ spihw.Controller = (*Controller)(nil)
