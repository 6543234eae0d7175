package main

import "github.com/mcoot/provisioner/internal/cli"

func main() {
	cli.Execute()
}
