package main

import "github.com/kasuboski/amnis/cmd"

func main() {
	cmd.Execute()
}
