package cmd

import (
	"fmt"

	"github.com/common-nighthawk/go-figure"
)

func printBanner() {
	figure.NewFigure("lanyard", "cybermedium", true).Print()
	fmt.Printf("\n  Session service - Version %s\n\n", Version)
}
