// Package at91sam7 holds the register map and the bring-up table for the Atmel AT91SAM7S256.
package at91sam7

// Register addresses used during bring-up.
const (
	MC_FMR    uint32 = 0xFFFFFF60 // MC flash mode register
	WDTC_WDMR uint32 = 0xFFFFFD44 // watchdog mode register
	PMC_MOR   uint32 = 0xFFFFFC20 // PMC main oscillator register
	PMC_PLLR  uint32 = 0xFFFFFC2C // PMC PLL register
	PMC_MCKR  uint32 = 0xFFFFFC30 // PMC master clock register
	RSTC_RMR  uint32 = 0xFFFFFD08 // reset controller mode register
)

// Flash geometry.
const (
	FlashBase uint32 = 0x00100000
	FlashSize uint32 = 256 * 1024
	FlashBank int    = 0
)

// Bring-up values. MAINCK is 18.432 MHz; the PLL runs at 18.432 / 14 * 73 = 96.1 MHz and the master clock at half
// of that, 48 MHz.
const (
	FlashModeValue       uint32 = 0x00320100 // FWS=1, FMCN=50
	WatchdogDisableValue uint32 = 0xA0008000 // WDDIS, WDIDLEHLT, reserved bit 31 (WDMR_RESERVED)
	MainOscillatorValue  uint32 = 0xA0000601 // MOSCEN, OSCOUNT=6, reserved bits 29 and 31 (MOR_RESERVED)
	PLLValue             uint32 = 0x00480A0E // DIV=14, PLLCOUNT=10, MUL=72
	MasterClockValue     uint32 = 0x00000007 // CSS=PLL, PRES=2
	UserResetValue       uint32 = 0xA5000401 // KEY, URSTEN, ERSTL=4
)

// Settling delays, in milliseconds. The status registers are deliberately not polled.
const (
	OscillatorStartupMillis = 100
	PLLLockMillis           = 200
	MasterClockMillis       = 100
)

// MC_FMR fields.
const (
	fmrFWSShift  = 8
	fmrFMCNShift = 16
)

// FMR returns an MC_FMR value with the given number of wait states and the flash microsecond cycle number.
func FMR(waitStates, cyclesPerMicrosecond uint32) uint32 {
	return (waitStates&0x3)<<fmrFWSShift | (cyclesPerMicrosecond&0xFF)<<fmrFMCNShift
}

// WDTC_WDMR bits. WDMR_RESERVED is a reserved bit that Atmel's OpenOCD bring-up script sets; the write is kept
// word for word.
const (
	WDMR_WDDIS     uint32 = 1 << 15
	WDMR_WDDBGHLT  uint32 = 1 << 28
	WDMR_WDIDLEHLT uint32 = 1 << 29
	WDMR_RESERVED  uint32 = 1 << 31
)

// PMC_MOR bits. MOR_RESERVED covers the reserved bits 29 and 31 that Atmel's OpenOCD bring-up script sets; the
// write is kept word for word.
const (
	MOR_MOSCEN   uint32 = 1 << 0
	MOR_RESERVED uint32 = 0xA0 << 24
)

const morOSCOUNTShift = 8

// MOR returns a PMC_MOR value enabling the main oscillator with a startup time of startup * 8 slow clock cycles.
func MOR(startup uint32) uint32 {
	return MOR_MOSCEN | (startup&0xFF)<<morOSCOUNTShift
}

// PMC_PLLR fields.
const (
	pllrDIVShift      = 0
	pllrPLLCOUNTShift = 8
	pllrMULShift      = 16
)

// PLLR returns a PMC_PLLR value. The PLL output is MAINCK / div * (mul + 1); count is the lock time in slow clock
// cycles divided by 8.
func PLLR(div, count, mul uint32) uint32 {
	return (div&0xFF)<<pllrDIVShift | (count&0x3F)<<pllrPLLCOUNTShift | (mul&0x7FF)<<pllrMULShift
}

// PMC_MCKR fields.
const (
	MCKR_CSS_SLOW uint32 = 0
	MCKR_CSS_MAIN uint32 = 1
	MCKR_CSS_PLL  uint32 = 3

	MCKR_PRES_CLK   uint32 = 0 << 2
	MCKR_PRES_CLK_2 uint32 = 1 << 2
	MCKR_PRES_CLK_4 uint32 = 2 << 2
)

// MCKR returns a PMC_MCKR value selecting the clock source css with prescaler pres.
func MCKR(css, pres uint32) uint32 {
	return css&0x3 | pres&0x1C
}

// RSTC_RMR fields.
const (
	RMR_URSTEN uint32 = 1 << 0
	RMR_KEY    uint32 = 0xA5 << 24
)

const rmrERSTLShift = 8

// RMR returns a RSTC_RMR value, including the write key, that enables the user reset with an external reset length
// of 2^(erstl+1) slow clock cycles.
func RMR(erstl uint32) uint32 {
	return RMR_KEY | (erstl&0xF)<<rmrERSTLShift | RMR_URSTEN
}
