// Package spihw defines the register-level contract of one SPI host
// controller instance: decoded status, packed command/configuration words,
// event and error interrupt masks, and the Controller interface the
// transaction engine drives. Implementations are expected to be thin
// wrappers over the memory-mapped peripheral (or a simulation of it, see
// package simhw); all control logic lives above this interface.
package spihw

import "errors"

// Errors returned by Controller register operations.
var (
	ErrCmdQueueFull = errors.New("spihw: command queue full")
	ErrInvalidSpeed = errors.New("spihw: invalid speed for direction")
	ErrInvalidCSID  = errors.New("spihw: chip-select id out of range")
)

// Dir is the data direction of one command segment.
type Dir uint8

const (
	DirDummy Dir = iota // clock cycles only, no data lines driven or sampled
	DirRx               // receive only
	DirTx               // transmit only
	DirBidir            // full duplex; standard speed only
)

// Speed is the line width of one command segment.
type Speed uint8

const (
	SpeedStandard Speed = iota
	SpeedDual
	SpeedQuad
)

// Event is a bitmask of controller event interrupt sources.
type Event uint8

const (
	EventRxFull Event = 1 << iota
	EventTxEmpty
	EventRxWM
	EventTxWM
	EventReady
	EventIdle

	EventNone Event = 0
	EventAll  Event = EventIdle<<1 - 1
)

// Error is a bitmask of controller hardware error sources.
type Error uint8

const (
	ErrorCmdBusy Error = 1 << iota // command issued while controller not ready
	ErrorOverflow
	ErrorUnderflow
	ErrorCmdInval
	ErrorCSIDInval
	ErrorAccessInval

	ErrorNone Error = 0
	// ErrorIRQAll covers every error source that can raise an interrupt;
	// access faults are reported in status only.
	ErrorIRQAll Error = ErrorCSIDInval<<1 - 1
	ErrorAll    Error = ErrorAccessInval<<1 - 1
)

// Status is the decoded controller status word.
type Status struct {
	TxQueueDepth  uint8 // unsent words in the TX FIFO
	RxQueueDepth  uint8 // unread words in the RX FIFO
	CmdQueueDepth uint8 // unprocessed commands

	TxEmpty     bool
	TxFull      bool
	TxStall     bool // controller needs data but the TX FIFO is empty
	TxWatermark bool // TxQueueDepth is below the TX watermark

	RxEmpty     bool
	RxFull      bool
	RxStall     bool // controller has data but the RX FIFO is full
	RxWatermark bool // RxQueueDepth is at or above the RX watermark

	BigEndian bool
	Active    bool // a command is being processed
	Ready     bool // the controller accepts another command
}

// Command describes one hardware command segment. LenMinusOne holds the
// byte length minus one, exactly as the 24-bit register field does.
type Command struct {
	LenMinusOne uint32
	CSAAT       bool // keep chip-select asserted after the segment completes
	Speed       Speed
	Dir         Dir
}

// ConfigOpts is the per-chip-select timing and polarity configuration.
type ConfigOpts struct {
	ClkDiv    uint16 // SPI clock = system clock / (2*(ClkDiv+1))
	CSNIdle   uint8  // half-cycles chip-select is held high between commands
	CSNTrail  uint8  // half-cycles between last clock edge and deassert
	CSNLead   uint8  // half-cycles between assert and first clock edge
	FullCycle bool   // sample a full cycle after shift-out instead of half
	CPHA      bool
	CPOL      bool
}

// Params are the fixed hardware parameters of one controller instance.
type Params struct {
	TxDepth        uint8 // TX FIFO capacity in words
	RxDepth        uint8 // RX FIFO capacity in words
	CmdDepth       uint8 // command queue capacity
	NumChipSelects uint8
	SysClockHz     uint32
}

// Controller is the register-level interface of one SPI host instance.
// Methods are not goroutine-safe unless the implementation says otherwise;
// the transaction engine serialises access per controller.
//
// SetEventHandler and SetErrorHandler install the interrupt trampolines:
// the implementation invokes them from interrupt context (or the simulator
// goroutine standing in for it) with the pending source bits.
type Controller interface {
	Params() Params
	Status() Status

	// WriteWord pushes one word into the TX FIFO; false when full.
	WriteWord(w uint32) bool
	// ReadWord pops one word from the RX FIFO; false when empty.
	ReadWord() (uint32, bool)

	SetCommand(cmd Command) error
	SetConfigOpts(csid uint8, conf uint32) error
	SetChipSelect(csid uint8) error
	SetWatermarks(tx, rx uint8)

	EnableEvents(ev Event, on bool)
	EnableErrors(er Error, on bool)
	EnableEventInterrupt(on bool)
	EnableErrorInterrupt(on bool)

	SetEnable(on bool)
	SetOutputEnable(on bool)
	SoftReset()

	SetEventHandler(fn func(Event))
	SetErrorHandler(fn func(Error))
}
