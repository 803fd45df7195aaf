package main

import (
	"github.com/boostorg/boost-archives/cmd"
	"github.com/boostorg/boost-archives/pkg/logger"
)

var version = "1.0.0"

func main() {
	if err := cmd.Execute(version); err != nil {
		logger.Fatalf("Error: %v", err)
	}
}
