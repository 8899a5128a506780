package spi

import (
	"spihost-go/errcode"
	"spihost-go/spihw"
	"spihost-go/x/mathx"
)

// Dir and Speed are re-exported so callers building segment lists do not
// need to import the register package.
type (
	Dir   = spihw.Dir
	Speed = spihw.Speed
)

const (
	DirDummy = spihw.DirDummy
	DirRx    = spihw.DirRx
	DirTx    = spihw.DirTx
	DirBidir = spihw.DirBidir

	SpeedStandard = spihw.SpeedStandard
	SpeedDual     = spihw.SpeedDual
	SpeedQuad     = spihw.SpeedQuad
)

// MaxSegmentBytes is the largest byte length one segment can carry.
const MaxSegmentBytes = spihw.MaxCommandBytes

const bytesPerWord = 4

// Segment is one leg of a transaction: a byte count, a direction and a
// line speed. Chip-select handling between segments is the engine's job,
// callers only describe the data movement.
type Segment struct {
	Len   uint32 // bytes (clock cycles for dummy segments)
	Dir   Dir
	Speed Speed
}

func TxSegment(n uint32) Segment    { return Segment{Len: n, Dir: DirTx, Speed: SpeedStandard} }
func RxSegment(n uint32) Segment    { return Segment{Len: n, Dir: DirRx, Speed: SpeedStandard} }
func BidirSegment(n uint32) Segment { return Segment{Len: n, Dir: DirBidir, Speed: SpeedStandard} }
func DummySegment(n uint32) Segment { return Segment{Len: n, Dir: DirDummy, Speed: SpeedStandard} }

func TxSegmentDual(n uint32) Segment { return Segment{Len: n, Dir: DirTx, Speed: SpeedDual} }
func TxSegmentQuad(n uint32) Segment { return Segment{Len: n, Dir: DirTx, Speed: SpeedQuad} }
func RxSegmentDual(n uint32) Segment { return Segment{Len: n, Dir: DirRx, Speed: SpeedDual} }
func RxSegmentQuad(n uint32) Segment { return Segment{Len: n, Dir: DirRx, Speed: SpeedQuad} }

// NewSegment builds a segment with an explicit direction and speed.
func NewSegment(d Dir, s Speed, n uint32) Segment { return Segment{Len: n, Dir: d, Speed: s} }

// words is the number of FIFO words the segment occupies.
func (s Segment) words() uint32 { return mathx.CeilDiv(s.Len, bytesPerWord) }

// tallySegments validates a segment list and totals the TX and RX words
// it will move. Validation failures accumulate into the returned code.
func tallySegments(segs []Segment) (txWords, rxWords uint32, code errcode.Code) {
	if len(segs) == 0 {
		return 0, 0, errcode.SegmentInvalid
	}
	for _, sg := range segs {
		if sg.Len == 0 || sg.Len > MaxSegmentBytes {
			code |= errcode.LenInvalid
		}
		if !spihw.ValidMode(sg.Dir, sg.Speed) {
			code |= errcode.SegmentInvalid
		}
		switch sg.Dir {
		case DirTx:
			txWords += sg.words()
		case DirRx:
			rxWords += sg.words()
		case DirBidir:
			txWords += sg.words()
			rxWords += sg.words()
		}
	}
	return txWords, rxWords, code
}
