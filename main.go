package main

import "github.com/crxlens/crxlens/cmd"

// execCmd is indirected so tests can intercept the CLI entry point.
var execCmd = cmd.Execute

func main() {
	execCmd()
}
