// Command hbrag answers questions about an employee handbook with
// retrieval-augmented generation. It provides a one-shot CLI, an interactive
// terminal chat and an HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/handbook-rag/cmd/hbrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
