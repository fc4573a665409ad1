package main

import (
	"os"

	"github.com/garyjia/approval-workflow/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
