// aula is a Telegram study assistant that answers questions over indexed
// course material with retrieval-augmented generation.
package main

import (
	"fmt"
	"os"

	"github.com/aulabot/aula/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
