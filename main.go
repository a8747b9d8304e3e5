package main

import "github.com/glia-dev/glia/cmd"

func main() {
	cmd.Execute()
}
