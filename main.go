package main

import "github.com/nextlevelbuilder/squad/cmd"

func main() {
	cmd.Execute()
}
