package main

import "consentgate/internal/cli"

func main() {
	cli.Execute()
}
