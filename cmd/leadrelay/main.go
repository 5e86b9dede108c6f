package main

import "github.com/crmsync/leadrelay/internal/cli"

func main() {
	cli.Execute()
}
