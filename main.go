package main

import "github.com/shopassist/server/internal/cli"

func main() {
	cli.Execute()
}
