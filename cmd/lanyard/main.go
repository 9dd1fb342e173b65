package main

import "github.com/mdrys/lanyard/cmd/lanyard/cmd"

func main() {
	cmd.Execute()
}
