package spihw

import "testing"

func TestPackCommand(t *testing.T) {
	cases := []struct {
		name string
		cmd  Command
		want uint32
	}{
		{"tx 4 bytes", Command{LenMinusOne: 3, Dir: DirTx}, 3 | 2<<27},
		{"rx quad csaat", Command{LenMinusOne: 15, CSAAT: true, Speed: SpeedQuad, Dir: DirRx}, 15 | 1<<24 | 2<<25 | 1<<27},
		{"bidir max len", Command{LenMinusOne: 0xFF_FFFF, Dir: DirBidir}, 0xFF_FFFF | 3<<27},
		{"dummy", Command{LenMinusOne: 7, Dir: DirDummy}, 7},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := PackCommand(c.cmd)
			if got != c.want {
				t.Fatalf("PackCommand = %#x, want %#x", got, c.want)
			}
			if back := UnpackCommand(got); back != c.cmd {
				t.Fatalf("UnpackCommand = %+v, want %+v", back, c.cmd)
			}
		})
	}
}

func TestPackConfigOpts(t *testing.T) {
	c := ConfigOpts{
		ClkDiv:    49,
		CSNIdle:   3,
		CSNTrail:  2,
		CSNLead:   1,
		FullCycle: true,
		CPHA:      false,
		CPOL:      true,
	}
	want := uint32(49) | 3<<16 | 2<<20 | 1<<24 | 1<<29 | 1<<31
	got := PackConfigOpts(c)
	if got != want {
		t.Fatalf("PackConfigOpts = %#x, want %#x", got, want)
	}
	if back := UnpackConfigOpts(got); back != c {
		t.Fatalf("UnpackConfigOpts = %+v, want %+v", back, c)
	}
}

func TestPackStatus(t *testing.T) {
	s := Status{
		TxQueueDepth:  18,
		RxQueueDepth:  52,
		CmdQueueDepth: 2,
		TxWatermark:   true,
		RxEmpty:       true,
		Active:        true,
		Ready:         true,
	}
	want := uint32(18) | 52<<8 | 2<<16 | 1<<24 | 1<<26 | 1<<30 | 1<<31
	got := PackStatus(s)
	if got != want {
		t.Fatalf("PackStatus = %#x, want %#x", got, want)
	}
	if back := UnpackStatus(got); back != s {
		t.Fatalf("UnpackStatus = %+v, want %+v", back, s)
	}
}

func TestModeRoundTrip(t *testing.T) {
	m := EncodeMode(DirBidir, SpeedStandard)
	if m != 0x3 {
		t.Fatalf("EncodeMode = %#x, want 0x3", m)
	}
	d, s := DecodeMode(EncodeMode(DirRx, SpeedQuad))
	if d != DirRx || s != SpeedQuad {
		t.Fatalf("DecodeMode = %v %v", d, s)
	}
}

func TestValidMode(t *testing.T) {
	if !ValidMode(DirBidir, SpeedStandard) {
		t.Error("bidir standard should be valid")
	}
	if ValidMode(DirBidir, SpeedDual) || ValidMode(DirBidir, SpeedQuad) {
		t.Error("bidir above standard speed should be invalid")
	}
	if ValidMode(DirTx, Speed(3)) {
		t.Error("out-of-range speed should be invalid")
	}
	if !ValidMode(DirDummy, SpeedQuad) {
		t.Error("dummy at any speed should be valid")
	}
}
