package cpu

import "rotos/kernel/isa"

const (
	misaRV32 = 1 << 30
	misaC    = 1 << 2
	misaI    = 1 << 8
	misaM    = 1 << 12
	misaU    = 1 << 20

	// mstatusWritable masks the mstatus fields the hart implements: MIE,
	// MPIE and MPP.
	mstatusWritable = 1<<3 | 1<<7 | isa.MstatusMPPMask

	// vendorID identifies the simulated core in mvendorid.
	vendorID = 0x726f74
)

// csrAccess executes csrrw, csrrs, csrrc and their immediate forms.
func (h *Hart) csrAccess(in isa.Inst) {
	csr := in.CSR()

	var src uint32
	if in.Funct3&4 != 0 {
		src = uint32(in.Rs1)
	} else {
		src = h.x[in.Rs1]
	}

	// csrrs/csrrc with a zero source and the immediate forms with a zero
	// immediate only read the register.
	write := in.Funct3&3 == 1 || in.Rs1 != 0

	old, ok := h.ReadCSR(csr)
	if !ok || !h.csrAccessible(csr, write) {
		h.raise(CauseIllegal, in.Raw)
		return
	}

	if write {
		v := src
		switch in.Funct3 & 3 {
		case 2:
			v = old | src
		case 3:
			v = old &^ src
		}
		h.WriteCSR(csr, v)
	}

	h.SetReg(in.Rd, old)
}

// csrAccessible applies the privilege and read-only checks encoded in the
// CSR number.
func (h *Hart) csrAccessible(csr uint16, write bool) bool {
	if Priv(isa.CSRPriv(csr)) > h.priv {
		return false
	}
	if write && csr>>10 == 3 {
		return false
	}
	return true
}

// ReadCSR returns the value of csr. The second result is false for CSRs the
// hart does not implement.
func (h *Hart) ReadCSR(csr uint16) (uint32, bool) {
	if isa.IsCFICSR(csr) && !h.caps.CFICSRs {
		return 0, false
	}

	switch {
	case csr >= isa.CSRPmpcfg0 && csr < isa.CSRPmpcfg0+pmpEntries/4:
		return h.pmp.readCfg(int(csr - isa.CSRPmpcfg0)), true
	case csr >= isa.CSRPmpaddr0 && csr < isa.CSRPmpaddr0+pmpEntries:
		return h.pmp.addr[csr-isa.CSRPmpaddr0], true
	}

	switch csr {
	case isa.CSRMstatus:
		return h.csr.mstatus, true
	case isa.CSRMisa:
		misa := uint32(misaRV32 | misaI | misaM | misaU)
		if h.caps.CompressedMOPs {
			misa |= misaC
		}
		return misa, true
	case isa.CSRMtvec:
		return h.csr.mtvec, true
	case isa.CSRMscratch:
		return h.csr.mscratch, true
	case isa.CSRMepc:
		return h.csr.mepc, true
	case isa.CSRMcause:
		return h.csr.mcause, true
	case isa.CSRMtval:
		return h.csr.mtval, true
	case isa.CSRMenvcfg:
		return h.csr.menvcfg, true
	case isa.CSRSenvcfg:
		return h.csr.senvcfg, true
	case isa.CSRMseccfg:
		return h.csr.mseccfg, true
	case isa.CSRSsp:
		return h.csr.ssp, true
	case isa.CSRMvendor:
		return vendorID, true
	case isa.CSRMhartid:
		return 0, true
	}
	return 0, false
}

// WriteCSR updates csr, applying the WARL rules of each register. Writes to
// unimplemented or read-only registers are ignored.
func (h *Hart) WriteCSR(csr uint16, v uint32) {
	if isa.IsCFICSR(csr) && !h.caps.CFICSRs {
		return
	}

	switch {
	case csr >= isa.CSRPmpcfg0 && csr < isa.CSRPmpcfg0+pmpEntries/4:
		h.pmp.writeCfg(int(csr-isa.CSRPmpcfg0), v)
		return
	case csr >= isa.CSRPmpaddr0 && csr < isa.CSRPmpaddr0+pmpEntries:
		h.pmp.writeAddr(int(csr-isa.CSRPmpaddr0), v)
		return
	}

	switch csr {
	case isa.CSRMstatus:
		// MPP only holds the implemented privilege levels.
		if mpp := Priv((v & isa.MstatusMPPMask) >> isa.MstatusMPPShift); mpp != User && mpp != Machine {
			v = v&^isa.MstatusMPPMask | h.csr.mstatus&isa.MstatusMPPMask
		}
		h.csr.mstatus = v & mstatusWritable
	case isa.CSRMtvec:
		// Only direct mode is implemented.
		h.csr.mtvec = v &^ 3
	case isa.CSRMscratch:
		h.csr.mscratch = v
	case isa.CSRMepc:
		h.csr.mepc = v &^ 1
	case isa.CSRMcause:
		h.csr.mcause = v
	case isa.CSRMtval:
		h.csr.mtval = v
	case isa.CSRMenvcfg:
		h.csr.menvcfg = v & h.envcfgMask()
	case isa.CSRSenvcfg:
		h.csr.senvcfg = v & h.envcfgMask()
	case isa.CSRMseccfg:
		if h.caps.LandingPads {
			h.csr.mseccfg = v & isa.MseccfgMLPE
		}
	case isa.CSRSsp:
		h.csr.ssp = v &^ 3
	}
}

// envcfgMask returns the envcfg bits backed by an implemented extension.
func (h *Hart) envcfgMask() uint32 {
	var mask uint32
	if h.caps.LandingPads {
		mask |= isa.EnvcfgLPE
	}
	if h.caps.ShadowStack {
		mask |= isa.EnvcfgSSE
	}
	return mask
}
