// Command verifyd runs the verification pipeline: the pool manager, the
// workers it supervises, and the operator commands around them.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "verifyd:", err)
		os.Exit(1)
	}
}
