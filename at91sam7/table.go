package at91sam7

import "github.com/mkock/bringup"

// Name is the name of the bring-up sequence.
const Name = "AT91SAM7S256"

// DefaultImage is the flash image used when none is given.
const DefaultImage = "test.bin"

// BringUp returns the bring-up sequence that halts the core, configures flash wait states, disables the watchdog,
// switches the master clock to the PLL, enables the user reset, writes image to the start of flash and restarts the
// target. An empty image selects DefaultImage.
//
// The watchdog is disabled before the first delay, and the oscillator and PLL delays precede the clock switch.
func BringUp(image string) *bringup.Sequence {
	if image == "" {
		image = DefaultImage
	}

	return bringup.New(Name,
		bringup.Halt{},
		bringup.SetCoreState{State: bringup.ARM},
		bringup.WriteMemory{Addr: MC_FMR, Value: FlashModeValue},
		bringup.WriteMemory{Addr: WDTC_WDMR, Value: WatchdogDisableValue},
		bringup.WriteMemory{Addr: PMC_MOR, Value: MainOscillatorValue},
		bringup.WaitMillis(OscillatorStartupMillis),
		bringup.WriteMemory{Addr: PMC_PLLR, Value: PLLValue},
		bringup.WaitMillis(PLLLockMillis),
		bringup.WriteMemory{Addr: PMC_MCKR, Value: MasterClockValue},
		bringup.WaitMillis(MasterClockMillis),
		bringup.WriteMemory{Addr: RSTC_RMR, Value: UserResetValue},
		bringup.FlashWrite{Bank: FlashBank, Image: image, Offset: 0},
		bringup.Reset{},
		bringup.Shutdown{},
	)
}
