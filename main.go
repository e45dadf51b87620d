package main

import "github.com/agentic-research/platinfo/cmd"

func main() {
	cmd.Execute()
}
