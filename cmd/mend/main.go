package main

import (
	"os"

	"github.com/re-cinq/mend/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
