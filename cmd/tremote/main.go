package main

import "github.com/pojntfx/tremote/cmd/tremote/cmd"

func main() {
	if err := cmd.Execute(); err != nil {
		panic(err)
	}
}
