package main

import (
	"vault-keeper/internal/cli"
)

func main() {
	cli.Execute()
}
