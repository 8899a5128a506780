// Package spidrv adapts a transaction-engine handle to the
// tinygo.org/x/drivers SPI interface, so existing device drivers can sit
// on top of the host controller without knowing about segments or word
// FIFOs.
package spidrv

import (
	"errors"

	"tinygo.org/x/drivers"

	"spihost-go/spi"
)

var (
	ErrBufferMismatch = errors.New("spidrv: tx and rx buffer lengths differ")
	ErrTransfer       = errors.New("spidrv: transfer ended in error state")
)

const bytesPerWord = 4

// Bus is a byte-oriented SPI bus over one slave handle. All transfers
// are blocking.
type Bus struct {
	h *spi.Handle
}

var _ drivers.SPI = (*Bus)(nil)

// New wraps a handle. The handle stays usable directly; the bus only
// adds byte packing.
func New(h *spi.Handle) *Bus { return &Bus{h: h} }

// Tx shifts w out and r in. With both buffers set the transfer is full
// duplex and the lengths must match; with only one set it is a plain
// write or read.
func (b *Bus) Tx(w, r []byte) error {
	switch {
	case len(w) > 0 && len(r) > 0:
		if len(w) != len(r) {
			return ErrBufferMismatch
		}
		tx := packWords(w)
		rx := make([]uint32, len(tx))
		if err := b.h.Transceive(tx, rx, uint32(len(w))); err != nil {
			return err
		}
		unpackWords(rx, r)
	case len(w) > 0:
		if err := b.h.Transmit(packWords(w), uint32(len(w))); err != nil {
			return err
		}
	case len(r) > 0:
		rx := make([]uint32, wordCount(len(r)))
		if err := b.h.Receive(rx, uint32(len(r))); err != nil {
			return err
		}
		unpackWords(rx, r)
	default:
		return nil
	}
	if b.h.State() == spi.StateError {
		return ErrTransfer
	}
	return nil
}

// Transfer shifts a single byte full duplex.
func (b *Bus) Transfer(bt byte) (byte, error) {
	var out [1]byte
	if err := b.Tx([]byte{bt}, out[:]); err != nil {
		return 0, err
	}
	return out[0], nil
}

func wordCount(n int) int { return (n + bytesPerWord - 1) / bytesPerWord }

// packWords packs bytes into FIFO words, first byte in the lowest byte
// of the first word. The tail word is zero padded.
func packWords(b []byte) []uint32 {
	out := make([]uint32, wordCount(len(b)))
	for i, v := range b {
		out[i/bytesPerWord] |= uint32(v) << (8 * (i % bytesPerWord))
	}
	return out
}

// unpackWords is the inverse of packWords, stopping at len(b).
func unpackWords(w []uint32, b []byte) {
	for i := range b {
		b[i] = byte(w[i/bytesPerWord] >> (8 * (i % bytesPerWord)))
	}
}
