package main

import (
	"fmt"
	"os"

	"github.com/npezzotti/go-estate-chat/internal/command"
)

func main() {
	cmd := command.NewRootCmd(command.Version)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
