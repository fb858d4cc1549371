package main

import "knowthecode/cmd"

func main() {
	cmd.Execute()
}
