package main

import "github.com/nextlevelbuilder/miniclaw/cmd"

func main() {
	cmd.Execute()
}
