package hyundai

import "strconv"

// CAN addresses the profile reads, writes or routes.
const (
	AddrLCANDiagA  uint32 = 524
	AddrMDPS12     uint32 = 593
	AddrEMS16      uint32 = 608
	AddrEMS11      uint32 = 790
	AddrLKAS11     uint32 = 832
	AddrEEMS11     uint32 = 881
	AddrMDPS11     uint32 = 897
	AddrWHLSPD11   uint32 = 902
	AddrSCC14      uint32 = 905
	AddrFCA11      uint32 = 909
	AddrTCS13      uint32 = 916
	AddrSCC11      uint32 = 1056
	AddrSCC12      uint32 = 1057
	AddrFCA12      uint32 = 1155
	AddrLFAHDAMFC  uint32 = 1157
	AddrFRTRadar11 uint32 = 1186
	AddrCLU11      uint32 = 1265
	AddrSCC13      uint32 = 1290
	AddrLCANDiagB  uint32 = 1296
)

var addrNames = map[uint32]string{
	AddrLCANDiagA:  "LCAN_DIAG",
	AddrMDPS12:     "MDPS12",
	AddrEMS16:      "EMS16",
	AddrEMS11:      "EMS11",
	AddrLKAS11:     "LKAS11",
	AddrEEMS11:     "E_EMS11",
	AddrMDPS11:     "MDPS11",
	AddrWHLSPD11:   "WHL_SPD11",
	AddrSCC14:      "SCC14",
	AddrFCA11:      "FCA11",
	AddrTCS13:      "TCS13",
	AddrSCC11:      "SCC11",
	AddrSCC12:      "SCC12",
	AddrFCA12:      "FCA12",
	AddrLFAHDAMFC:  "LFAHDA_MFC",
	AddrFRTRadar11: "FRT_RADAR11",
	AddrCLU11:      "CLU11",
	AddrSCC13:      "SCC13",
	AddrLCANDiagB:  "LCAN_DIAG",
}

// AddrName returns the message name of addr, or its decimal value.
func AddrName(addr uint32) string {
	if n, ok := addrNames[addr]; ok {
		return n
	}
	return strconv.FormatUint(uint64(addr), 10)
}

// AddrByName resolves a message name such as "LKAS11" to its address. The
// shared LCAN_DIAG name resolves to the lower address.
func AddrByName(name string) (uint32, bool) {
	var found uint32
	ok := false
	for addr, n := range addrNames {
		if n == name && (!ok || addr < found) {
			found, ok = addr, true
		}
	}
	return found, ok
}

func isLCANDiag(addr uint32) bool { return addr == AddrLCANDiagA || addr == AddrLCANDiagB }

func isMDPS(addr uint32) bool { return addr == AddrMDPS12 || addr == AddrMDPS11 }

// isSCCStatus matches the messages that reveal the cruise ECU's bus.
func isSCCStatus(addr uint32) bool { return addr == AddrSCC11 || addr == AddrSCC12 }

// isSCCFamily matches every cruise message the driving computer may author.
func isSCCFamily(addr uint32) bool {
	switch addr {
	case AddrSCC11, AddrSCC12, AddrSCC13, AddrSCC14:
		return true
	}
	return false
}

func isLaneFamily(addr uint32) bool { return addr == AddrLKAS11 || addr == AddrLFAHDAMFC }
