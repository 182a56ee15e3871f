package main

import (
	"context"
	"os"

	"github.com/dmitrijs2005/medkeeper/internal/cli"
)

func main() {
	os.Exit(cli.New().Run(context.Background(), os.Args[1:]))
}
