package main

import (
	"os"

	"github.com/quotaguard/tokenquota/internal/cli"
)

func main() {
	os.Exit(cli.ExecuteWithErrorCode(os.Args[1:]))
}
