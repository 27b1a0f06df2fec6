// Command labelctl is the terminal client for the labelx API.
package main

import (
	"os"

	"github.com/mohans/labelx/cmd/labelctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
