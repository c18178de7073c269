package main

import (
	"os"

	"ocrdeploy/internal/ctl"
)

func main() { os.Exit(ctl.Main()) }
