package main

import "github.com/behzadon/gather/cmd"

func main() {
	cmd.Execute()
}
