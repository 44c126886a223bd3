// Command at91flash brings up an AT91SAM7S256 and programs its flash through a running OpenOCD.
package main

import (
	"os"

	"github.com/golang/glog"
)

func main() {
	defer glog.Flush()

	if err := rootCmd.Execute(); err != nil {
		glog.Errorf("%v", err)
		glog.Flush()
		os.Exit(1)
	}
}
