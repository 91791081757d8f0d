// The main package for the offerwatch executable.
package main

import (
	"github.com/JakeFAU/offerwatch/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
