// Command accountsctl administers the identity store directly.
package main

import (
	"fmt"
	"os"

	"github.com/cookstagram/accounts/internal/logger"
)

func main() {
	logger.Init("warn", "text")
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
