package main

import (
	"path/filepath"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/mkock/bringup"
	"github.com/mkock/bringup/at91sam7"
	"github.com/mkock/bringup/image"
)

// programCmd represents the program command
var programCmd = &cobra.Command{
	Use:   "program",
	Short: "Bring up the target and program its flash",
	Long: `Halt the target, switch it to the PLL clock, disable the watchdog, write the
image to the start of flash and reset the target. Intel HEX images are
converted to a raw binary first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("image")

		img, err := image.Prepare(path, at91sam7.FlashBase, at91sam7.FlashSize)
		if err != nil {
			return err
		}
		defer func() {
			if err := img.Close(); err != nil {
				glog.Warningf("removing %s: %v", img.Path, err)
			}
		}()

		seq, err := programSequence(img)
		if err != nil {
			return err
		}

		glog.Infof("programming %s (%d bytes)", img.Source, img.Size)
		return runSequence(cmd, seq)
	},
}

// programSequence returns the bring-up sequence flashing img. OpenOCD resolves relative paths against its own working
// directory, so the image path is made absolute first.
func programSequence(img *image.Image) (*bringup.Sequence, error) {
	path, err := filepath.Abs(img.Path)
	if err != nil {
		return nil, err
	}
	return at91sam7.BringUp(path), nil
}

func init() {
	rootCmd.AddCommand(programCmd)
	programCmd.Flags().StringP("image", "i", at91sam7.DefaultImage, "Image file, e.g. test.bin or app.hex")
}
