package main

import "ingestrunner/cmd/cli"

func main() {
	cli.Execute()
}
