package spi

const maxClockDivisor = 0xFFFF

// clockDivisor picks the smallest divisor whose resulting SPI clock does
// not exceed freqHz. The hardware clock is sysHz / (2*(div+1)). Requests
// at the very bottom of the range saturate at the 16-bit register limit.
func clockDivisor(sysHz, freqHz uint32) uint16 {
	if freqHz >= sysHz/2 {
		return 0
	}
	div := (sysHz/freqHz - 2) / 2
	if sysHz/(2*div+2) > freqHz {
		div++
	}
	if div > maxClockDivisor {
		div = maxClockDivisor
	}
	return uint16(div)
}

// actualFreq is the SPI clock the divisor really produces.
func actualFreq(sysHz uint32, div uint16) uint32 {
	return sysHz / (2*uint32(div) + 2)
}

// minFreq is the slowest SPI clock reachable with the 16-bit divisor.
func minFreq(sysHz uint32) uint32 {
	return sysHz / (2*maxClockDivisor + 2)
}
