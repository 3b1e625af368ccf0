// Command comlockctl is a small demo CLI for exercising a full handshake and
// message exchange without a network, grounded on Ciphera's cmd/ciphera
// entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/ElMoorish/ComLock/cmd/comlockctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "comlockctl:", err)
		os.Exit(1)
	}
}
