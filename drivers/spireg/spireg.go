// Package spireg is a register-access helper for SPI peripherals that use
// the common address-then-data convention: one command/address byte with a
// read/write flag, followed by the register payload. Both phases run as
// one multi-segment transaction, so chip-select stays asserted between the
// address byte and the data, which is what these devices require.
//
// The address encoding varies between vendors; Config captures the usual
// knobs (read-flag bit, multi-byte dummy gap for fast reads).
package spireg

import (
	"errors"

	"spihost-go/spi"
)

// Errors returned by the driver.
var (
	ErrBadLength = errors.New("spireg: burst length must be 1..maxBurst")
	ErrTransfer  = errors.New("spireg: transaction ended in error state")
)

const maxBurst = 64

// Config controls the address encoding. All fields are optional.
type Config struct {
	// ReadFlag is OR-ed into the address byte for reads. Default 0x80.
	ReadFlag byte
	// WriteMask is AND-ed into the address byte for writes. Default 0x7F.
	WriteMask byte
	// DummyBytes inserts clock-only filler between address and read data,
	// for parts that need turnaround time. Default 0.
	DummyBytes uint32
}

// Device accesses registers of one SPI peripheral through its handle.
type Device struct {
	h   *spi.Handle
	cfg Config
}

// New wraps a handle. The handle must already be open.
func New(h *spi.Handle, cfgs ...Config) *Device {
	cfg := Config{ReadFlag: 0x80, WriteMask: 0x7F}
	if len(cfgs) > 0 {
		c := cfgs[0]
		if c.ReadFlag != 0 {
			cfg.ReadFlag = c.ReadFlag
		}
		if c.WriteMask != 0 {
			cfg.WriteMask = c.WriteMask
		}
		cfg.DummyBytes = c.DummyBytes
	}
	return &Device{h: h, cfg: cfg}
}

// ReadReg reads one register byte.
func (d *Device) ReadReg(reg byte) (byte, error) {
	var buf [1]byte
	if err := d.ReadBurst(reg, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadBurst reads len(buf) consecutive register bytes starting at reg.
func (d *Device) ReadBurst(reg byte, buf []byte) error {
	if len(buf) == 0 || len(buf) > maxBurst {
		return ErrBadLength
	}
	segs := make([]spi.Segment, 0, 3)
	segs = append(segs, spi.TxSegment(1))
	if d.cfg.DummyBytes > 0 {
		segs = append(segs, spi.DummySegment(d.cfg.DummyBytes))
	}
	segs = append(segs, spi.RxSegment(uint32(len(buf))))

	tx := []uint32{uint32(reg | d.cfg.ReadFlag)}
	rx := make([]uint32, (len(buf)+3)/4)
	if err := d.h.Execute(segs, tx, rx); err != nil {
		return err
	}
	if d.h.State() == spi.StateError {
		return ErrTransfer
	}
	for i := range buf {
		buf[i] = byte(rx[i/4] >> (8 * (i % 4)))
	}
	return nil
}

// WriteReg writes one register byte.
func (d *Device) WriteReg(reg, val byte) error {
	return d.WriteBurst(reg, []byte{val})
}

// WriteBurst writes len(buf) consecutive register bytes starting at reg.
// Address and payload go out as one transmit segment.
func (d *Device) WriteBurst(reg byte, buf []byte) error {
	if len(buf) == 0 || len(buf) > maxBurst {
		return ErrBadLength
	}
	n := 1 + len(buf)
	tx := make([]uint32, (n+3)/4)
	tx[0] = uint32(reg & d.cfg.WriteMask)
	for i, v := range buf {
		j := i + 1
		tx[j/4] |= uint32(v) << (8 * (j % 4))
	}
	if err := d.h.Transmit(tx, uint32(n)); err != nil {
		return err
	}
	if d.h.State() == spi.StateError {
		return ErrTransfer
	}
	return nil
}
