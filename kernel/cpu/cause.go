package cpu

// Cause is an exception code as reported in mcause.
type Cause uint32

// Synchronous exception causes.
const (
	CauseFetchMisaligned Cause = 0
	CauseFetchAccess     Cause = 1
	CauseIllegal         Cause = 2
	CauseBreakpoint      Cause = 3
	CauseLoadMisaligned  Cause = 4
	CauseLoadAccess      Cause = 5
	CauseStoreMisaligned Cause = 6
	CauseStoreAccess     Cause = 7
	CauseEcallU          Cause = 8
	CauseEcallM          Cause = 11
	CauseSoftwareCheck   Cause = 18
)

// Values of mtval for a software-check exception.
const (
	SoftwareCheckLandingPad  = 2
	SoftwareCheckShadowStack = 3
)

var causeNames = map[Cause]string{
	CauseFetchMisaligned: "instruction address misaligned",
	CauseFetchAccess:     "instruction access fault",
	CauseIllegal:         "illegal instruction",
	CauseBreakpoint:      "breakpoint",
	CauseLoadMisaligned:  "load address misaligned",
	CauseLoadAccess:      "load access fault",
	CauseStoreMisaligned: "store address misaligned",
	CauseStoreAccess:     "store access fault",
	CauseEcallU:          "environment call from U-mode",
	CauseEcallM:          "environment call from M-mode",
	CauseSoftwareCheck:   "software check",
}

func (c Cause) String() string {
	if name, ok := causeNames[c]; ok {
		return name
	}
	return "unknown"
}
