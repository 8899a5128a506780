package spi_test

import (
	"sync/atomic"
	"testing"
	"time"

	"spihost-go/errcode"
	"spihost-go/simhw"
	"spihost-go/spi"
	"spihost-go/spihw"
)

func newSim(t *testing.T) *simhw.Controller {
	t.Helper()
	c := simhw.New()
	t.Cleanup(c.Close)
	return c
}

func newSimWith(t *testing.T, p spihw.Params) *simhw.Controller {
	t.Helper()
	c := simhw.NewWithParams(p)
	t.Cleanup(c.Close)
	return c
}

func open(t *testing.T, c *simhw.Controller) *spi.Handle {
	t.Helper()
	h, err := spi.NewRegistry(c).Open(0, spi.Slave{CSID: 0, FreqHz: 1_000_000})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return h
}

func waitState(t *testing.T, h *spi.Handle, want spi.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", h.State(), want)
}

func TestOpenIdxInvalid(t *testing.T) {
	r := spi.NewRegistry(newSim(t))
	if _, err := r.Open(1, spi.Slave{FreqHz: 1_000_000}); err != errcode.IdxInvalid {
		t.Fatalf("err = %v, want idx_invalid", err)
	}
}

func TestOpenAccumulatesSlaveErrors(t *testing.T) {
	c := newSim(t)
	_, err := spi.NewRegistry(c).Open(0, spi.Slave{CSID: 5, FreqHz: 10})
	code, ok := errcode.Of(err)
	if !ok || !code.Has(errcode.SlaveCsidInvalid|errcode.SlaveFreqInvalid) {
		t.Fatalf("err = %v, want csid and freq bits", err)
	}
	if got := c.Stats().RegWrites; got != 0 {
		t.Fatalf("rejected open touched hardware: %d register writes", got)
	}
}

func TestOpenFreqBounds(t *testing.T) {
	r := spi.NewRegistry(newSim(t))
	// Half the 100 MHz system clock is the fastest valid request.
	if _, err := r.Open(0, spi.Slave{FreqHz: 50_000_000}); err != nil {
		t.Fatalf("freq at sys/2: %v", err)
	}
	if _, err := r.Open(0, spi.Slave{FreqHz: 50_000_001}); err == nil {
		t.Fatal("freq above sys/2 should be rejected")
	}
	if _, err := r.Open(0, spi.Slave{FreqHz: 761}); err == nil {
		t.Fatal("freq below divisor range should be rejected")
	}
}

func TestOpenMovesSlotToIdle(t *testing.T) {
	h := open(t, newSim(t))
	if got := h.State(); got != spi.StateIdle {
		t.Fatalf("state = %v, want idle", got)
	}
}

func TestClose(t *testing.T) {
	h := open(t, newSim(t))
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.State() != spi.StateUninit {
		t.Fatal("closed handle should report uninit")
	}
	if err := h.Transmit([]uint32{1}, 4); err != errcode.NotInit {
		t.Fatalf("err = %v, want not_init", err)
	}
	if err := h.Close(); err != errcode.NotInit {
		t.Fatalf("second Close = %v, want not_init", err)
	}
}

func TestClosedHandleAccumulatesArgErrors(t *testing.T) {
	h := open(t, newSim(t))
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := h.Transmit([]uint32{1}, 0)
	code, ok := errcode.Of(err)
	if !ok || !code.Has(errcode.NotInit|errcode.LenInvalid) {
		t.Fatalf("err = %v, want not_init and len_invalid bits", err)
	}
	err = h.Execute(nil, nil, nil)
	code, _ = errcode.Of(err)
	if !code.Has(errcode.NotInit | errcode.SegmentInvalid) {
		t.Fatalf("err = %v, want not_init and segment_invalid bits", err)
	}
}

func TestOpenClaimsChipSelect(t *testing.T) {
	c := newSim(t)
	r := spi.NewRegistry(c)
	h, err := r.Open(0, spi.Slave{CSID: 0, FreqHz: 1_000_000})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := r.Open(0, spi.Slave{CSID: 0, FreqHz: 4_000_000}); err != errcode.AlreadyInit {
		t.Fatalf("second open = %v, want already_init", err)
	}
	h1, err := r.Open(0, spi.Slave{CSID: 1, FreqHz: 1_000_000})
	if err != nil {
		t.Fatalf("open cs1: %v", err)
	}
	// Moving onto a claimed chip select is rejected; the handle keeps its
	// own claim.
	if err := h1.Reconfigure(spi.Slave{CSID: 0, FreqHz: 1_000_000}); err != errcode.AlreadyInit {
		t.Fatalf("reconfigure onto cs0 = %v, want already_init", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Open(0, spi.Slave{CSID: 0, FreqHz: 1_000_000}); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
}

func TestOpenStoresAchievedFreq(t *testing.T) {
	c := newSim(t)
	h, err := spi.NewRegistry(c).Open(0, spi.Slave{CSID: 0, FreqHz: 24_000_000})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	// 100 MHz system clock: divisor 2, achieved clock sys/6.
	if got := h.ActualFreqHz(); got != 100_000_000/6 {
		t.Fatalf("ActualFreqHz = %d, want %d", got, 100_000_000/6)
	}
}

func TestTransmit(t *testing.T) {
	c := newSim(t)
	h := open(t, c)
	if err := h.Transmit([]uint32{0x03020100, 0x07060504}, 8); err != nil {
		t.Fatalf("Transmit: %v", err)
	}
	if got := h.State(); got != spi.StateDone {
		t.Fatalf("state = %v, want done", got)
	}
	st := c.Stats()
	if st.WordWrites != 2 {
		t.Fatalf("word writes = %d, want 2", st.WordWrites)
	}
	if len(st.Commands) != 1 {
		t.Fatalf("commands = %d, want 1", len(st.Commands))
	}
	cmd := st.Commands[0]
	if cmd.Dir != spihw.DirTx || cmd.CSAAT || cmd.LenMinusOne != 7 {
		t.Fatalf("command = %+v", cmd)
	}
}

func TestOversizedBuffersClampToLength(t *testing.T) {
	c := newSim(t)
	h := open(t, c)
	var doneTx int
	cbs := spi.Callbacks{
		Done: func(tx, rx []uint32) { doneTx = len(tx) },
	}
	// 8 bytes out of a 4-word buffer: only the first 2 words may reach
	// the FIFO.
	if err := h.TransmitAsync([]uint32{0x11, 0x22, 0x33, 0x44}, 8, cbs, true); err != nil {
		t.Fatalf("transmit: %v", err)
	}
	if got := c.Stats().WordWrites; got != 2 {
		t.Fatalf("word writes = %d, want 2", got)
	}
	if doneTx != 2 {
		t.Fatalf("done callback saw %d tx words, want 2", doneTx)
	}
	// The next transaction must start clean, with no stale words ahead
	// of it on the wire.
	if err := h.Transmit([]uint32{0xAA, 0xBB}, 8); err != nil {
		t.Fatalf("second transmit: %v", err)
	}
	words := c.Stats().TxWords
	want := []uint32{0x11, 0x22, 0xAA, 0xBB}
	if len(words) != len(want) {
		t.Fatalf("wire words = %#x, want %#x", words, want)
	}
	for i := range want {
		if words[i] != want[i] {
			t.Fatalf("wire word %d = %#x, want %#x", i, words[i], want[i])
		}
	}
	// RX side: the drain stops at the transaction length too.
	c.FeedRx(0x1, 0x2)
	rx := []uint32{9, 9, 9, 9}
	if err := h.Receive(rx, 8); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if rx[0] != 1 || rx[1] != 2 || rx[2] != 9 || rx[3] != 9 {
		t.Fatalf("rx = %#x, want tail untouched", rx)
	}
}

func TestTransmitLenInvalid(t *testing.T) {
	c := newSim(t)
	h := open(t, c)
	base := c.Stats().RegWrites
	if err := h.Transmit([]uint32{1}, 0); err != errcode.LenInvalid {
		t.Fatalf("zero len: %v", err)
	}
	if err := h.Transmit([]uint32{1}, 8); err != errcode.LenInvalid {
		t.Fatalf("short buffer: %v", err)
	}
	if got := c.Stats().RegWrites - base; got != 0 {
		t.Fatalf("rejected transmit touched hardware: %d register writes", got)
	}
}

func TestReceive(t *testing.T) {
	c := newSim(t)
	c.FeedRx(0xDEADBEEF, 0x12345678)
	h := open(t, c)
	rx := make([]uint32, 2)
	if err := h.Receive(rx, 8); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if h.State() != spi.StateDone {
		t.Fatalf("state = %v", h.State())
	}
	if rx[0] != 0xDEADBEEF || rx[1] != 0x12345678 {
		t.Fatalf("rx = %#x", rx)
	}
	if got := c.Stats().WordWrites; got != 0 {
		t.Fatalf("receive-only wrote %d TX words", got)
	}
}

func TestTransceiveEchoes(t *testing.T) {
	c := newSim(t)
	h := open(t, c)
	tx := []uint32{0xCAFEF00D, 0x0BADBEEF, 0x55AA55AA}
	rx := make([]uint32, 3)
	if err := h.Transceive(tx, rx, 12); err != nil {
		t.Fatalf("Transceive: %v", err)
	}
	for i := range tx {
		if rx[i] != tx[i] {
			t.Fatalf("rx[%d] = %#x, want %#x", i, rx[i], tx[i])
		}
	}
}

func TestExecuteMultiSegment(t *testing.T) {
	c := newSim(t)
	c.FeedRx(0xAABBCCDD)
	h := open(t, c)
	segs := []spi.Segment{
		spi.TxSegment(4),
		spi.DummySegment(2),
		spi.RxSegment(4),
	}
	tx := []uint32{0x01020304}
	rx := make([]uint32, 1)
	if err := h.Execute(segs, tx, rx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if rx[0] != 0xAABBCCDD {
		t.Fatalf("rx = %#x", rx[0])
	}
	cmds := c.Stats().Commands
	if len(cmds) != 3 {
		t.Fatalf("commands = %d, want 3", len(cmds))
	}
	// Chip-select stays asserted up to the last segment.
	if !cmds[0].CSAAT || !cmds[1].CSAAT || cmds[2].CSAAT {
		t.Fatalf("csaat sequence = %v %v %v", cmds[0].CSAAT, cmds[1].CSAAT, cmds[2].CSAAT)
	}
	if cmds[0].Dir != spihw.DirTx || cmds[1].Dir != spihw.DirDummy || cmds[2].Dir != spihw.DirRx {
		t.Fatalf("dir sequence = %v %v %v", cmds[0].Dir, cmds[1].Dir, cmds[2].Dir)
	}
}

func TestExecuteBufferMismatch(t *testing.T) {
	h := open(t, newSim(t))
	segs := []spi.Segment{spi.TxSegment(8)}
	err := h.Execute(segs, []uint32{1}, nil) // needs 2 words
	code, _ := errcode.Of(err)
	if !code.Has(errcode.SegmentInvalid) {
		t.Fatalf("err = %v, want segment_invalid", err)
	}
}

func TestBusyRejectsSecondTransaction(t *testing.T) {
	c := newSim(t)
	h := open(t, c)
	c.Hold()
	if err := h.TransmitAsync([]uint32{1}, 4, spi.Callbacks{}, false); err != nil {
		t.Fatalf("TransmitAsync: %v", err)
	}
	if got := h.State(); got != spi.StateBusy {
		t.Fatalf("state = %v, want busy", got)
	}
	base := c.Stats().RegWrites
	if err := h.Transmit([]uint32{2}, 4); err != errcode.IsBusy {
		t.Fatalf("second transmit = %v, want is_busy", err)
	}
	if got := c.Stats().RegWrites - base; got != 0 {
		t.Fatalf("rejected transmit touched hardware: %d register writes", got)
	}
	c.Resume()
	waitState(t, h, spi.StateDone)
}

func TestAsyncDoneCallback(t *testing.T) {
	c := newSim(t)
	h := open(t, c)
	var done atomic.Int32
	var gotTx, gotRx int
	cbs := spi.Callbacks{
		Done: func(tx, rx []uint32) {
			gotTx, gotRx = len(tx), len(rx)
			done.Add(1)
		},
	}
	if err := h.TransmitAsync([]uint32{1, 2}, 8, cbs, false); err != nil {
		t.Fatalf("TransmitAsync: %v", err)
	}
	waitState(t, h, spi.StateDone)
	if done.Load() != 1 {
		t.Fatalf("done callbacks = %d, want 1", done.Load())
	}
	if gotTx != 2 || gotRx != 0 {
		t.Fatalf("callback buffers = %d tx, %d rx; want 2, 0", gotTx, gotRx)
	}
}

func TestErrorInterruptAbortsTransaction(t *testing.T) {
	c := newSim(t)
	h := open(t, c)
	var errCount atomic.Int32
	var gotTx int
	cbs := spi.Callbacks{
		Error: func(tx, rx []uint32) {
			gotTx = len(tx)
			errCount.Add(1)
		},
	}
	c.Hold()
	if err := h.TransmitAsync([]uint32{1}, 4, cbs, false); err != nil {
		t.Fatalf("TransmitAsync: %v", err)
	}
	c.InjectError(spihw.ErrorOverflow)
	waitState(t, h, spi.StateError)
	if errCount.Load() != 1 {
		t.Fatalf("error callbacks = %d, want 1", errCount.Load())
	}
	if gotTx != 1 {
		t.Fatalf("error callback saw %d tx words, want 1", gotTx)
	}
	c.Resume()
}

func TestErrorStateClearedByNextLaunch(t *testing.T) {
	c := newSim(t)
	h := open(t, c)
	c.Hold()
	if err := h.TransmitAsync([]uint32{1}, 4, spi.Callbacks{}, false); err != nil {
		t.Fatalf("TransmitAsync: %v", err)
	}
	c.InjectError(spihw.ErrorUnderflow)
	waitState(t, h, spi.StateError)
	// Reset while held so the stale queued command is dropped before the
	// worker can pick it up.
	if err := h.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	c.Resume()
	if err := h.Transmit([]uint32{7}, 4); err != nil {
		t.Fatalf("transmit after error: %v", err)
	}
	waitState(t, h, spi.StateDone)
}

func TestWatermarkCallbacks(t *testing.T) {
	c := newSimWith(t, spihw.Params{
		TxDepth:        8,
		RxDepth:        8,
		CmdDepth:       4,
		NumChipSelects: 1,
		SysClockHz:     100_000_000,
	})
	h := open(t, c)
	var txwm, rxwm atomic.Int32
	cbs := spi.Callbacks{
		TxWatermark: func(tx, rx []uint32) { txwm.Add(1) },
		RxWatermark: func(tx, rx []uint32) { rxwm.Add(1) },
	}
	tx := make([]uint32, 16)
	rx := make([]uint32, 16)
	for i := range tx {
		tx[i] = uint32(i) * 0x01010101
	}
	if err := h.TransceiveAsync(tx, rx, 64, cbs, true); err != nil {
		t.Fatalf("TransceiveAsync: %v", err)
	}
	waitState(t, h, spi.StateDone)
	// 16 words through an 8-deep FIFO cannot finish on the initial fill.
	if txwm.Load() == 0 {
		t.Error("TX watermark callback never fired")
	}
	if rxwm.Load() == 0 {
		t.Error("RX watermark callback never fired")
	}
	for i := range tx {
		if rx[i] != tx[i] {
			t.Fatalf("rx[%d] = %#x, want %#x", i, rx[i], tx[i])
		}
	}
}

func TestReconfigure(t *testing.T) {
	c := newSim(t)
	h := open(t, c)
	if err := h.Reconfigure(spi.Slave{CSID: 9, FreqHz: 1_000_000}); err == nil {
		t.Fatal("invalid csid should be rejected")
	}
	if err := h.Reconfigure(spi.Slave{CSID: 1, FreqHz: 24_000_000}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	if got := h.ActualFreqHz(); got != 100_000_000/6 {
		t.Fatalf("ActualFreqHz = %d, want %d", got, 100_000_000/6)
	}
}

func TestTwoHandlesShareController(t *testing.T) {
	c := newSim(t)
	r := spi.NewRegistry(c)
	h0, err := r.Open(0, spi.Slave{CSID: 0, FreqHz: 1_000_000})
	if err != nil {
		t.Fatalf("Open cs0: %v", err)
	}
	h1, err := r.Open(0, spi.Slave{CSID: 1, FreqHz: 4_000_000})
	if err != nil {
		t.Fatalf("Open cs1: %v", err)
	}
	if err := h0.Transmit([]uint32{1}, 4); err != nil {
		t.Fatalf("h0 transmit: %v", err)
	}
	if err := h1.Transmit([]uint32{2}, 4); err != nil {
		t.Fatalf("h1 transmit: %v", err)
	}
	if err := h0.Close(); err != nil {
		t.Fatalf("h0 close: %v", err)
	}
	// Closing one handle leaves the other usable.
	if err := h1.Transmit([]uint32{3}, 4); err != nil {
		t.Fatalf("h1 transmit after h0 close: %v", err)
	}
}

func TestStateString(t *testing.T) {
	want := map[spi.State]string{
		spi.StateUninit: "uninit",
		spi.StateIdle:   "idle",
		spi.StateBusy:   "busy",
		spi.StateDone:   "done",
		spi.StateError:  "error",
		spi.State(99):   "invalid",
	}
	for s, w := range want {
		if s.String() != w {
			t.Errorf("State(%d).String() = %q, want %q", uint8(s), s.String(), w)
		}
	}
}
