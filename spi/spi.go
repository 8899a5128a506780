// Package spi is the transaction engine for SPI host controllers. It
// turns multi-segment transactions into hardware command sequences,
// keeps the FIFOs fed and drained from the controller's event interrupts,
// and exposes blocking and asynchronous operations per chip select.
//
// Transactions never split across controllers: a Handle binds one slave
// on one controller, and a controller runs one transaction at a time.
// Callbacks run in interrupt context (the controller's dispatch
// goroutine); they must not start new transfers or block.
package spi

import (
	"spihost-go/errcode"
	"spihost-go/spihw"
	"spihost-go/x/mathx"
)

// State is the lifecycle state of a controller's transaction slot.
// Done and Error are sticky until the next transaction launches.
type State uint8

const (
	StateUninit State = iota
	StateIdle
	StateBusy
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "uninit"
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	}
	return "invalid"
}

// Index identifies one controller within a Registry.
type Index uint8

// DataMode is the SPI clock polarity/phase pairing.
type DataMode uint8

const (
	Mode0 DataMode = iota // CPOL=0 CPHA=0
	Mode1                 // CPOL=0 CPHA=1
	Mode2                 // CPOL=1 CPHA=0
	Mode3                 // CPOL=1 CPHA=1
)

func (m DataMode) cpha() bool { return m&1 != 0 }
func (m DataMode) cpol() bool { return m&2 != 0 }

// Slave describes one device behind a chip select.
type Slave struct {
	CSID uint8
	// FreqHz is the requested SPI clock; Open and Reconfigure store back
	// the achieved frequency, never above the request.
	FreqHz uint32
	DataMode  DataMode
	CSNIdle   uint8 // half-cycles chip-select stays high between commands
	CSNTrail  uint8 // half-cycles after the last clock edge
	CSNLead   uint8 // half-cycles before the first clock edge
	FullCycle bool
}

// Callback receives the transaction's word buffers. The slices are the
// ones the caller passed in; either may be nil.
type Callback func(tx, rx []uint32)

// Callbacks are the per-transaction notification hooks. All fields are
// optional.
type Callbacks struct {
	Done        Callback // terminal, after the final RX drain
	Error       Callback // terminal, after a hardware error interrupt
	TxWatermark Callback // after a TX FIFO refill
	RxWatermark Callback // after an RX FIFO drain
}

// Registry owns the transaction slots for a set of controllers and
// installs their interrupt dispatchers.
type Registry struct {
	peris []*peripheral
}

// NewRegistry wires a transaction slot to each controller.
func NewRegistry(ctrls ...spihw.Controller) *Registry {
	r := &Registry{peris: make([]*peripheral, 0, len(ctrls))}
	for _, hw := range ctrls {
		r.peris = append(r.peris, newPeripheral(hw))
	}
	return r
}

// Open validates the slave against the controller and returns a handle
// bound to it. The chip select is claimed until Close; the slave's
// FreqHz is replaced with the achieved SPI clock, never above the
// request. The controller is enabled with error interrupts armed and its
// slot moves to Idle.
func (r *Registry) Open(idx Index, s Slave) (*Handle, error) {
	if int(idx) >= len(r.peris) {
		return nil, errcode.IdxInvalid
	}
	p := r.peris[idx]
	par := p.hw.Params()
	if code := checkSlave(par, s); code != errcode.OK {
		return nil, code
	}
	s.FreqHz = actualFreq(par.SysClockHz, clockDivisor(par.SysClockHz, s.FreqHz))
	p.mu.Lock()
	if p.claimed[s.CSID] {
		p.mu.Unlock()
		return nil, errcode.AlreadyInit
	}
	p.claimed[s.CSID] = true
	p.hw.SetEnable(true)
	p.hw.SetOutputEnable(true)
	p.hw.EnableErrors(spihw.ErrorIRQAll, true)
	p.hw.EnableErrorInterrupt(true)
	if p.loadState() == StateUninit {
		p.state.Store(uint32(StateIdle))
	}
	p.mu.Unlock()
	return &Handle{p: p, idx: idx, slave: s, init: true}, nil
}

// checkSlave accumulates every validation failure of a slave config.
func checkSlave(par spihw.Params, s Slave) errcode.Code {
	var code errcode.Code
	if s.CSID >= par.NumChipSelects {
		code |= errcode.SlaveCsidInvalid
	}
	if s.FreqHz < minFreq(par.SysClockHz) || s.FreqHz > par.SysClockHz/2 {
		code |= errcode.SlaveFreqInvalid
	}
	return code
}

// Handle is one slave on one controller. Handles are not goroutine-safe;
// concurrent transactions on the same controller are rejected with
// IsBusy by the slot itself.
type Handle struct {
	p     *peripheral
	idx   Index
	slave Slave
	init  bool
}

// Close invalidates the handle and releases its chip select. Other
// handles on the same controller are unaffected.
func (h *Handle) Close() error {
	if !h.init {
		return errcode.NotInit
	}
	h.init = false
	h.p.mu.Lock()
	h.p.claimed[h.slave.CSID] = false
	h.p.mu.Unlock()
	return nil
}

// State reports the slot state of the underlying controller.
func (h *Handle) State() State {
	if !h.init {
		return StateUninit
	}
	return h.p.loadState()
}

// ActualFreqHz is the SPI clock this slave runs at, at or below the
// frequency requested from Open or Reconfigure.
func (h *Handle) ActualFreqHz() uint32 {
	return h.slave.FreqHz
}

// Reconfigure replaces the slave parameters; they take effect on the
// next transaction. Moving to a chip select claimed by another handle
// fails with AlreadyInit.
func (h *Handle) Reconfigure(s Slave) error {
	if !h.init {
		return errcode.NotInit
	}
	p := h.p
	par := p.hw.Params()
	if code := checkSlave(par, s); code != errcode.OK {
		return code
	}
	s.FreqHz = actualFreq(par.SysClockHz, clockDivisor(par.SysClockHz, s.FreqHz))
	p.mu.Lock()
	if s.CSID != h.slave.CSID {
		if p.claimed[s.CSID] {
			p.mu.Unlock()
			return errcode.AlreadyInit
		}
		p.claimed[h.slave.CSID] = false
		p.claimed[s.CSID] = true
	}
	h.slave = s
	p.mu.Unlock()
	return nil
}

// Reset soft-resets the controller, dropping FIFO contents and queued
// commands, and returns the slot to Idle.
func (h *Handle) Reset() error {
	if !h.init {
		return errcode.NotInit
	}
	p := h.p
	p.mu.Lock()
	p.hw.SoftReset()
	p.resetSlot()
	p.state.Store(uint32(StateIdle))
	p.mu.Unlock()
	p.cond.Broadcast()
	return nil
}

// Transmit sends nbytes from tx and blocks until the transaction leaves
// Busy. The terminal result is read with State.
func (h *Handle) Transmit(tx []uint32, nbytes uint32) error {
	return h.TransmitAsync(tx, nbytes, Callbacks{}, true)
}

// Receive reads nbytes into rx and blocks until the transaction leaves
// Busy.
func (h *Handle) Receive(rx []uint32, nbytes uint32) error {
	return h.ReceiveAsync(rx, nbytes, Callbacks{}, true)
}

// Transceive shifts nbytes full duplex and blocks until the transaction
// leaves Busy.
func (h *Handle) Transceive(tx, rx []uint32, nbytes uint32) error {
	return h.TransceiveAsync(tx, rx, nbytes, Callbacks{}, true)
}

// Execute runs an arbitrary segment list and blocks until the
// transaction leaves Busy.
func (h *Handle) Execute(segs []Segment, tx, rx []uint32) error {
	return h.ExecuteAsync(segs, tx, rx, Callbacks{}, true)
}

// TransmitAsync launches a transmit-only transaction. With block false
// it returns as soon as the transaction is armed.
func (h *Handle) TransmitAsync(tx []uint32, nbytes uint32, cbs Callbacks, block bool) error {
	code := h.validCode() | checkLen(nbytes) | checkWords(tx, nbytes)
	if code != errcode.OK {
		return code
	}
	return h.run([]Segment{TxSegment(nbytes)}, clampWords(tx, nbytes), nil, cbs, block)
}

// ReceiveAsync launches a receive-only transaction.
func (h *Handle) ReceiveAsync(rx []uint32, nbytes uint32, cbs Callbacks, block bool) error {
	code := h.validCode() | checkLen(nbytes) | checkWords(rx, nbytes)
	if code != errcode.OK {
		return code
	}
	return h.run([]Segment{RxSegment(nbytes)}, nil, clampWords(rx, nbytes), cbs, block)
}

// TransceiveAsync launches a full-duplex transaction.
func (h *Handle) TransceiveAsync(tx, rx []uint32, nbytes uint32, cbs Callbacks, block bool) error {
	code := h.validCode() | checkLen(nbytes) | checkWords(tx, nbytes) | checkWords(rx, nbytes)
	if code != errcode.OK {
		return code
	}
	return h.run([]Segment{BidirSegment(nbytes)}, clampWords(tx, nbytes), clampWords(rx, nbytes), cbs, block)
}

// ExecuteAsync launches a multi-segment transaction. The buffers must
// hold exactly the word totals the segment list moves; nil stands for an
// empty buffer.
func (h *Handle) ExecuteAsync(segs []Segment, tx, rx []uint32, cbs Callbacks, block bool) error {
	txWords, rxWords, code := tallySegments(segs)
	code |= h.validCode()
	if uint32(len(tx)) != txWords || uint32(len(rx)) != rxWords {
		code |= errcode.SegmentInvalid
	}
	if code != errcode.OK {
		return code
	}
	return h.run(segs, tx, rx, cbs, block)
}

// run is the common launch path: busy check, slave setup and launch, all
// inside one critical section so the interrupt dispatchers never see a
// half-armed slot. The caller has already validated the handle, the
// lengths and the buffers.
func (h *Handle) run(segs []Segment, tx, rx []uint32, cbs Callbacks, block bool) error {
	p := h.p
	p.mu.Lock()
	if p.loadState() == StateBusy {
		p.mu.Unlock()
		return errcode.IsBusy
	}
	if code := p.setSlave(h.slave); code != errcode.OK {
		p.mu.Unlock()
		return code
	}
	p.launch(segs, tx, rx, cbs)
	p.mu.Unlock()
	if block {
		p.wait()
	}
	return nil
}

// validCode is the handle-validity check, OR-able with the argument
// checks so one call reports every failure.
func (h *Handle) validCode() errcode.Code {
	if !h.init {
		return errcode.NotInit
	}
	return errcode.OK
}

func checkLen(nbytes uint32) errcode.Code {
	if nbytes == 0 || nbytes > MaxSegmentBytes {
		return errcode.LenInvalid
	}
	return errcode.OK
}

// checkWords verifies buf can hold nbytes of FIFO traffic.
func checkWords(buf []uint32, nbytes uint32) errcode.Code {
	if uint32(len(buf)) < mathx.CeilDiv(nbytes, bytesPerWord) {
		return errcode.LenInvalid
	}
	return errcode.OK
}

// clampWords trims an oversized buffer to the words the transaction
// actually moves, so the FIFO pump never shifts stale words out. Callers
// validate capacity first.
func clampWords(buf []uint32, nbytes uint32) []uint32 {
	return buf[:mathx.CeilDiv(nbytes, bytesPerWord)]
}
