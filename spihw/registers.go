package spihw

// Register word layouts. The bit positions are those of the hardware
// registers; the packed forms must stay wire-compatible with them.

const (
	// COMMAND register.
	cmdLenOffset   = 0
	CmdLenMask     = 0xFF_FFFF // 24-bit length-minus-one field
	cmdCSAATBit    = 24
	cmdSpeedOffset = 25
	cmdSpeedMask   = 0x3
	cmdDirOffset   = 27
	cmdDirMask     = 0x3

	// CONFIGOPTS register (one per chip select).
	cfgClkDivOffset   = 0
	cfgClkDivMask     = 0xFFFF
	cfgCSNIdleOffset  = 16
	cfgCSNTrailOffset = 20
	cfgCSNLeadOffset  = 24
	cfgNibbleMask     = 0xF
	cfgFullCycBit     = 29
	cfgCPHABit        = 30
	cfgCPOLBit        = 31

	// STATUS register.
	stTxQDOffset  = 0
	stRxQDOffset  = 8
	stQDMask      = 0xFF
	stCmdQDOffset = 16
	stCmdQDMask   = 0xF
	stRxWMBit     = 20
	stByteOrdBit  = 22
	stRxStallBit  = 23
	stRxEmptyBit  = 24
	stRxFullBit   = 25
	stTxWMBit     = 26
	stTxStallBit  = 27
	stTxEmptyBit  = 28
	stTxFullBit   = 29
	stActiveBit   = 30
	stReadyBit    = 31

	// Segment mode nibble.
	modeDirOffset   = 0
	modeSpeedOffset = 2
	modeFieldMask   = 0x3
)

// MaxCommandBytes is the largest byte length one command segment can carry.
const MaxCommandBytes = CmdLenMask

func bit(b bool, pos uint) uint32 {
	if b {
		return 1 << pos
	}
	return 0
}

// PackCommand encodes a Command into its register word.
func PackCommand(c Command) uint32 {
	w := (c.LenMinusOne & CmdLenMask) << cmdLenOffset
	w |= bit(c.CSAAT, cmdCSAATBit)
	w |= (uint32(c.Speed) & cmdSpeedMask) << cmdSpeedOffset
	w |= (uint32(c.Dir) & cmdDirMask) << cmdDirOffset
	return w
}

// UnpackCommand decodes a command register word.
func UnpackCommand(w uint32) Command {
	return Command{
		LenMinusOne: (w >> cmdLenOffset) & CmdLenMask,
		CSAAT:       w&(1<<cmdCSAATBit) != 0,
		Speed:       Speed((w >> cmdSpeedOffset) & cmdSpeedMask),
		Dir:         Dir((w >> cmdDirOffset) & cmdDirMask),
	}
}

// PackConfigOpts encodes a ConfigOpts into its register word.
func PackConfigOpts(c ConfigOpts) uint32 {
	w := (uint32(c.ClkDiv) & cfgClkDivMask) << cfgClkDivOffset
	w |= (uint32(c.CSNIdle) & cfgNibbleMask) << cfgCSNIdleOffset
	w |= (uint32(c.CSNTrail) & cfgNibbleMask) << cfgCSNTrailOffset
	w |= (uint32(c.CSNLead) & cfgNibbleMask) << cfgCSNLeadOffset
	w |= bit(c.FullCycle, cfgFullCycBit)
	w |= bit(c.CPHA, cfgCPHABit)
	w |= bit(c.CPOL, cfgCPOLBit)
	return w
}

// UnpackConfigOpts decodes a configopts register word.
func UnpackConfigOpts(w uint32) ConfigOpts {
	return ConfigOpts{
		ClkDiv:    uint16((w >> cfgClkDivOffset) & cfgClkDivMask),
		CSNIdle:   uint8((w >> cfgCSNIdleOffset) & cfgNibbleMask),
		CSNTrail:  uint8((w >> cfgCSNTrailOffset) & cfgNibbleMask),
		CSNLead:   uint8((w >> cfgCSNLeadOffset) & cfgNibbleMask),
		FullCycle: w&(1<<cfgFullCycBit) != 0,
		CPHA:      w&(1<<cfgCPHABit) != 0,
		CPOL:      w&(1<<cfgCPOLBit) != 0,
	}
}

// PackStatus encodes a Status into its register word.
func PackStatus(s Status) uint32 {
	w := (uint32(s.TxQueueDepth) & stQDMask) << stTxQDOffset
	w |= (uint32(s.RxQueueDepth) & stQDMask) << stRxQDOffset
	w |= (uint32(s.CmdQueueDepth) & stCmdQDMask) << stCmdQDOffset
	w |= bit(s.RxWatermark, stRxWMBit)
	w |= bit(s.BigEndian, stByteOrdBit)
	w |= bit(s.RxStall, stRxStallBit)
	w |= bit(s.RxEmpty, stRxEmptyBit)
	w |= bit(s.RxFull, stRxFullBit)
	w |= bit(s.TxWatermark, stTxWMBit)
	w |= bit(s.TxStall, stTxStallBit)
	w |= bit(s.TxEmpty, stTxEmptyBit)
	w |= bit(s.TxFull, stTxFullBit)
	w |= bit(s.Active, stActiveBit)
	w |= bit(s.Ready, stReadyBit)
	return w
}

// UnpackStatus decodes a status register word.
func UnpackStatus(w uint32) Status {
	return Status{
		TxQueueDepth:  uint8((w >> stTxQDOffset) & stQDMask),
		RxQueueDepth:  uint8((w >> stRxQDOffset) & stQDMask),
		CmdQueueDepth: uint8((w >> stCmdQDOffset) & stCmdQDMask),
		RxWatermark:   w&(1<<stRxWMBit) != 0,
		BigEndian:     w&(1<<stByteOrdBit) != 0,
		RxStall:       w&(1<<stRxStallBit) != 0,
		RxEmpty:       w&(1<<stRxEmptyBit) != 0,
		RxFull:        w&(1<<stRxFullBit) != 0,
		TxWatermark:   w&(1<<stTxWMBit) != 0,
		TxStall:       w&(1<<stTxStallBit) != 0,
		TxEmpty:       w&(1<<stTxEmptyBit) != 0,
		TxFull:        w&(1<<stTxFullBit) != 0,
		Active:        w&(1<<stActiveBit) != 0,
		Ready:         w&(1<<stReadyBit) != 0,
	}
}

// EncodeMode packs direction and speed into the 4-bit segment mode field.
func EncodeMode(d Dir, s Speed) uint8 {
	return (uint8(d)&modeFieldMask)<<modeDirOffset | (uint8(s)&modeFieldMask)<<modeSpeedOffset
}

// DecodeMode splits a segment mode field into direction and speed.
func DecodeMode(m uint8) (Dir, Speed) {
	return Dir(m >> modeDirOffset & modeFieldMask), Speed(m >> modeSpeedOffset & modeFieldMask)
}

// ValidMode reports whether a direction/speed pair is supported by the
// hardware: bidirectional transfer is possible at standard speed only.
func ValidMode(d Dir, s Speed) bool {
	if s > SpeedQuad {
		return false
	}
	return d != DirBidir || s == SpeedStandard
}
