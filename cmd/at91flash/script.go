package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/mkock/bringup/at91sam7"
	"github.com/mkock/bringup/openocd"
)

// scriptCmd represents the script command
var scriptCmd = &cobra.Command{
	Use:   "script",
	Short: "Print the bring-up sequence as an OpenOCD script",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("image")
		return openocd.WriteScript(cmd.OutOrStdout(), at91sam7.BringUp(path))
	},
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run FILE",
	Short: "Run an OpenOCD bring-up script step by step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		seq, err := openocd.ParseScript(args[0], f)
		if err != nil {
			return err
		}
		return runSequence(cmd, seq)
	},
}

func init() {
	rootCmd.AddCommand(scriptCmd)
	rootCmd.AddCommand(runCmd)
	scriptCmd.Flags().StringP("image", "i", at91sam7.DefaultImage, "Image file to reference in the flash write")
}
