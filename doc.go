// Package bringup provides a strictly sequential target bring-up sequencer for
// debug-probe driven microcontroller programming: halt the core, set up clocks
// and memory controllers through register writes, wait for hardware to settle,
// program flash, then reset and release the target.
//
// Quick Start
//
// 	seq := bringup.New("My Target",
// 		bringup.Halt{},
// 		bringup.SetCoreState{State: bringup.ARM},
// 		bringup.WriteMemory{Addr: 0xFFFFFD44, Value: 0xA0008000},
// 		bringup.WaitMillis(100),
// 		bringup.FlashWrite{Bank: 0, Image: "firmware.bin"},
// 		bringup.Reset{},
// 		bringup.Shutdown{},
// 	)
//
// 	// target implements bringup.Target, e.g. an *openocd.Client.
// 	err := bringup.Run(context.Background(), seq, target)
//
// Steps run in the order they were given, one at a time, and the first failing
// step aborts the sequence. The returned *SequenceError names the failing step
// by its 1-based index and classifies the failure.
//
// Progress
//
// 	session := bringup.NewSession(target)
// 	agent, _ := session.Agent(seq)
// 	_ = agent.Start(ctx)
//
// 	for p := range agent.Progress() {
// 		fmt.Println(p.Index, p.Step)
// 	}
//
// Cancelling the context stops the sequence before the next step. A flash write
// that has already started always runs to completion.
package bringup
