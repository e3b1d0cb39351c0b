package main

import "github.com/searchguard/searchguard/cmd/cli"

func main() {
	cli.Execute()
}
