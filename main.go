package main

import (
	"os"

	"github.com/auto-fib/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}