// The main package for the domain-mapper executable.
package main

import (
	"github.com/JakeFAU/domain-mapper/cmd"
)

func main() {
	cmd.Execute()
}
