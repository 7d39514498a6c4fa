package isa

// CSR numbers used by the kernel.
const (
	CSRSsp      uint16 = 0x011
	CSRSenvcfg  uint16 = 0x10a
	CSRMstatus  uint16 = 0x300
	CSRMisa     uint16 = 0x301
	CSRMtvec    uint16 = 0x305
	CSRMscratch uint16 = 0x340
	CSRMenvcfg  uint16 = 0x30a
	CSRMepc     uint16 = 0x341
	CSRMcause   uint16 = 0x342
	CSRMtval    uint16 = 0x343
	CSRPmpcfg0  uint16 = 0x3a0
	CSRPmpaddr0 uint16 = 0x3b0
	CSRMseccfg  uint16 = 0x747
	CSRMvendor  uint16 = 0xf11
	CSRMhartid  uint16 = 0xf14
)

// Bits of menvcfg/senvcfg and mseccfg that enable control-flow integrity.
const (
	// EnvcfgLPE enables landing pads for the less privileged modes.
	EnvcfgLPE uint32 = 1 << 2

	// EnvcfgSSE enables the hardware shadow stack for the less privileged
	// modes.
	EnvcfgSSE uint32 = 1 << 3

	// MseccfgMLPE enables landing pads for machine mode.
	MseccfgMLPE uint32 = 1 << 10
)

// mstatus fields.
const (
	MstatusMPPShift        = 11
	MstatusMPPMask  uint32 = 3 << MstatusMPPShift
)

// IsCFICSR returns true if csr is one of the control registers introduced by
// the control-flow integrity extensions. Accesses to these registers are
// allowed to fail on hardware that does not implement them.
func IsCFICSR(csr uint16) bool {
	switch csr {
	case CSRSsp, CSRSenvcfg, CSRMenvcfg, CSRMseccfg:
		return true
	}
	return false
}

// CSRPriv returns the lowest privilege level, encoded as in mstatus.MPP,
// that may access csr.
func CSRPriv(csr uint16) uint8 {
	return uint8(csr>>8) & 3
}

// PmpcfgCSR returns the pmpcfg register that holds the configuration byte of
// PMP entry index.
func PmpcfgCSR(index int) uint16 {
	return CSRPmpcfg0 + uint16(index/4)
}

// PmpaddrCSR returns the address register of PMP entry index.
func PmpaddrCSR(index int) uint16 {
	return CSRPmpaddr0 + uint16(index)
}
