package main

import (
	"context"
	"log"
	"os"

	"github.com/beekhuis/changeguard/pkg/cmd"

	// database/sql drivers selectable via the datasource driver setting.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// NB: This is set by GoReleaser during a build.
var version string

func main() {
	if err := cmd.Run(context.Background(), version, os.Args); err != nil {
		log.Fatal(err)
	}
}
