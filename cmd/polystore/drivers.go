package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/miketerry-org/polystore"
	"github.com/miketerry-org/polystore/drivers/memory"
	"github.com/miketerry-org/polystore/drivers/mongo"
	"github.com/miketerry-org/polystore/drivers/postgres"
)

// newRegistry builds the registry with every bundled driver.
func newRegistry() *polystore.Registry {
	r := polystore.NewRegistry()
	memory.Register(r)
	mongo.Register(r)
	postgres.Register(r)

	return r
}

func driversCommand() *cli.Command {
	return &cli.Command{
		Name:   "drivers",
		Usage:  "List available backend drivers",
		Action: runDrivers,
	}
}

func runDrivers(_ context.Context, _ *cli.Command) error {
	for _, name := range newRegistry().List() {
		fmt.Println(name)
	}

	return nil
}
