// Command skyhap bridges avatar parameters received over OSC to a serial
// haptic controller.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
