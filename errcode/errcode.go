package errcode

// Code is a stable, caller-facing result identifier for SPI operations.
// It is a uint32 bitmask newtype: validation paths accumulate independent
// failures with bitwise OR, it is comparable, allocation-free on the happy
// path, and implements error. The zero value OK means "no error"; functions
// returning error should return nil rather than OK.
type Code uint32

const (
	OK Code = 0

	IdxInvalid       Code = 1 << 0 // controller index out of range
	NotInit          Code = 1 << 1 // handle was closed or never opened
	AlreadyInit      Code = 1 << 2 // chip select already claimed by an open handle
	SlaveCsidInvalid Code = 1 << 3 // chip-select id >= controller's device count
	SlaveFreqInvalid Code = 1 << 4 // requested frequency outside the achievable range
	SlaveInvalid     Code = 1 << 5 // slave configuration rejected by the controller
	IsBusy           Code = 1 << 6 // a transaction is already in flight on this controller
	NotIdle          Code = 1 << 7 // controller still processing a command
	LenInvalid       Code = 1 << 8 // zero or over-maximum transfer length
	SegmentInvalid   Code = 1 << 9 // malformed segment list or buffer mismatch
)

var codeNames = []struct {
	c    Code
	name string
}{
	{IdxInvalid, "idx_invalid"},
	{NotInit, "not_init"},
	{AlreadyInit, "already_init"},
	{SlaveCsidInvalid, "slave_csid_invalid"},
	{SlaveFreqInvalid, "slave_freq_invalid"},
	{SlaveInvalid, "slave_invalid"},
	{IsBusy, "is_busy"},
	{NotIdle, "not_idle"},
	{LenInvalid, "len_invalid"},
	{SegmentInvalid, "segment_invalid"},
}

func (c Code) Error() string {
	if c == OK {
		return "ok"
	}
	s := ""
	for _, e := range codeNames {
		if c&e.c == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += e.name
	}
	if s == "" {
		return "unknown"
	}
	return s
}

// Has reports whether all bits of want are set in c.
func (c Code) Has(want Code) bool { return c&want == want }

// Of extracts a Code from an error. The second return is false for foreign
// error types.
func Of(err error) (Code, bool) {
	if err == nil {
		return OK, true
	}
	if c, ok := err.(Code); ok {
		return c, true
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code(), true
	}
	return OK, false
}
