package main

import "github.com/classreg/cmd/classreg/cmd"

func main() {
	cmd.Execute()
}
