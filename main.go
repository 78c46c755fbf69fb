// Package main is the entry point for the chasewpa CLI tool, which builds
// empirical chase win-probability tables from ball-by-ball history and
// attributes Win Probability Added to batters and bowlers.
package main

import "github.com/pable/go-cricket-wpa/cmd"

func main() {
	cmd.Execute()
}
