package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/spf13/cobra"

	"github.com/mkock/bringup"
	"github.com/mkock/bringup/openocd"
)

const (
	colorReset = "\x1b[0m"
	colorGreen = "\x1b[32m"
	colorRed   = "\x1b[31m"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "at91flash",
	Short:         "Bring up and program an AT91SAM7S256 through OpenOCD",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// glog registers its flags (-v, -logtostderr, ...) on the standard flag set.
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	rootCmd.PersistentFlags().String("tcl", openocd.DefaultAddr, "OpenOCD Tcl RPC address")
	rootCmd.PersistentFlags().Duration("halt-timeout", bringup.DefaultHaltTimeout, "time allowed for the core to halt")
	rootCmd.PersistentFlags().Duration("flash-timeout", 5*time.Minute, "time allowed for the flash write")

	// Keep glog from complaining about logging before flag.Parse.
	_ = flag.CommandLine.Parse(nil)
}

// runSequence connects to OpenOCD and runs seq, printing one line per step.
func runSequence(cmd *cobra.Command, seq *bringup.Sequence) error {
	addr, _ := cmd.Flags().GetString("tcl")
	haltTimeout, _ := cmd.Flags().GetDuration("halt-timeout")
	flashTimeout, _ := cmd.Flags().GetDuration("flash-timeout")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := openocd.Dial(ctx, addr, openocd.WithFlashTimeout(flashTimeout))
	if err != nil {
		return err
	}
	defer client.Close()

	out := colorable.NewColorableStdout()
	return bringup.Run(ctx, seq, client,
		bringup.WithHaltTimeout(haltTimeout),
		bringup.WithProgressCallback(func(p bringup.Progress) { printProgress(out, seq.Len(), p) }),
	)
}

// printProgress writes a single Progress report.
func printProgress(w io.Writer, total int, p bringup.Progress) {
	switch {
	case p.Err != nil:
		fmt.Fprintf(w, "%s[%2d/%d] FAIL%s %v\n", colorRed, p.Index, total, colorReset, p.Err)
	case p.Step != nil:
		fmt.Fprintf(w, "%s[%2d/%d]  ok %s %s\n", colorGreen, p.Index, total, colorReset, p.Step)
	default:
		fmt.Fprintf(w, "%sdone%s\n", colorGreen, colorReset)
	}
}
