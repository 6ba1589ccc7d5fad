package main

import "github.com/reunitehq/reunite/cmd"

func main() {
	cmd.Execute()
}
