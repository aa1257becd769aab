package main

import "github.com/joncrangle/win-autotype/cmd"

func main() {
	cmd.Execute()
}
