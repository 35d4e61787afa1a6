package main

import "github.com/aqasim81/migration-ledger/internal/cli"

func main() {
	cli.Execute()
}
