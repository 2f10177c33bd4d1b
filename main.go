package main

import (
	"tpulaunch/cmd"
)

func main() {
	cmd.Execute()
}
