package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/miketerry-org/polystore/where"
)

// ErrNoClause is returned when translate is invoked without a WHERE clause.
var ErrNoClause = errors.New("no clause given")

func translateCommand() *cli.Command {
	return &cli.Command{
		Name:      "translate",
		Usage:     "Translate a WHERE clause to a document filter or SQL",
		ArgsUsage: "<clause>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "sql",
				Usage: "emit parameterized SQL instead of a document filter",
			},
		},
		Action: runTranslate,
	}
}

func runTranslate(_ context.Context, cmd *cli.Command) error {
	clause := cmd.Args().First()
	if clause == "" {
		return ErrNoClause
	}

	if cmd.Bool("sql") {
		expr, err := where.Parse(clause)
		if err != nil {
			return err
		}

		stmt, args, err := where.ToSQL(expr, func(i int) string {
			return fmt.Sprintf("$%d", i)
		})
		if err != nil {
			return err
		}

		fmt.Println(stmt)

		for i, arg := range args {
			fmt.Printf("$%d = %v\n", i+1, arg)
		}

		return nil
	}

	filter, err := where.ToFilter(clause)
	if err != nil {
		return err
	}

	out, err := bson.MarshalExtJSON(filter, true, false)
	if err != nil {
		return fmt.Errorf("encoding filter: %w", err)
	}

	fmt.Println(string(out))

	return nil
}
