package main

import "github.com/warshanks/responses-bridge/cmd"

func main() {
	cmd.Execute()
}
