package main

import (
	"github.com/NVIDIA/fleet-ledger/pkg/cli"
)

func main() {
	cli.Execute()
}
