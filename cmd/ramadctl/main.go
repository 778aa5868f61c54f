package main

import (
	"os"

	"ramad/internal/ramadctl"
)

func main() {
	if err := ramadctl.Run(os.Args[1:]); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}
