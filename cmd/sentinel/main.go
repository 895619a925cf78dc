package main

import "spread-sentinel/internal/cli"

func main() {
	cli.Execute()
}
