package main

import "github.com/hapi-systems/hapi-core/cmd"

func main() {
	cmd.Execute()
}
