package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// main 是 swarm quarry 协调服务的入口。
func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
