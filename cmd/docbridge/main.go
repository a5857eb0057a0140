package main

import (
	"os"

	"github.com/rzpsarthak13/docbridge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
