package main

import (
	"fmt"
	"os"

	"github.com/jaennil/guide_helper/backend/tilecache/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
