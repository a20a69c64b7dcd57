package main

import (
	"os"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/malbeclabs/bicopilot/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(int(cli.Run(cli.BuildInfo{Version: version, Commit: commit, Date: date})))
}
