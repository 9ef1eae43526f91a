// fbsql is a small operational tool for running SQL against a configured
// Firebolt data source through the driver.
package main

import (
	"fmt"
	"os"

	"github.com/alexeyco/simpletable"
	"github.com/spf13/cast"
	"github.com/urfave/cli/v2"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/querylayer/firebolt-driver/firebolt"
	"github.com/querylayer/firebolt-driver/restclient"
)

func main() {
	app := &cli.App{
		Name:  "fbsql",
		Usage: "run SQL against a Firebolt data source",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "data-source",
				Value: "default",
				Usage: "data source name, resolved under FIREBOLT.<name>.*",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "query",
				Usage:     "run a buffered query and print the rows",
				ArgsUsage: "<sql>",
				Action:    query,
			},
			{
				Name:      "stream",
				Usage:     "run a streaming query and print rows as they arrive",
				ArgsUsage: "<sql>",
				Action:    stream,
			},
			{
				Name:   "tables",
				Usage:  "list the tables of the configured database",
				Action: tables,
			},
			{
				Name:   "ping",
				Usage:  "validate the connection",
				Action: ping,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func driver(c *cli.Context) *firebolt.Firebolt {
	log := logger.NewLogger()
	return firebolt.New(
		config.Default,
		log,
		stats.Default,
		restclient.New(log),
		c.String("data-source"),
		nil,
	)
}

func query(c *cli.Context) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("need a SQL statement")
	}

	d := driver(c)
	defer func() { _ = d.Release(c.Context) }()

	results, err := d.DownloadQueryResults(c.Context, c.Args().First())
	if err != nil {
		return err
	}

	table := simpletable.New()
	for _, columnType := range results.Types {
		table.Header.Cells = append(table.Header.Cells, &simpletable.Cell{
			Align: simpletable.AlignCenter,
			Text:  fmt.Sprintf("%s (%s)", columnType.Name, columnType.Type),
		})
	}
	for _, row := range results.Rows {
		cells := make([]*simpletable.Cell, 0, len(results.Types))
		for _, columnType := range results.Types {
			cells = append(cells, &simpletable.Cell{
				Align: simpletable.AlignLeft,
				Text:  cast.ToString(row[columnType.Name]),
			})
		}
		table.Body.Cells = append(table.Body.Cells, cells)
	}

	table.SetStyle(simpletable.StyleCompactLite)
	fmt.Println(table.String())
	return nil
}

func stream(c *cli.Context) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("need a SQL statement")
	}

	d := driver(c)
	defer func() { _ = d.Release(c.Context) }()

	results, err := d.Stream(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	defer func() { _ = results.Rows.Close() }()

	for results.Rows.Next() {
		row := results.Rows.Row()
		values := make([]string, 0, len(results.Types))
		for _, columnType := range results.Types {
			values = append(values, cast.ToString(row[columnType.Name]))
		}
		fmt.Println(values)
	}
	return results.Rows.Err()
}

func tables(c *cli.Context) error {
	d := driver(c)
	defer func() { _ = d.Release(c.Context) }()

	names, err := d.GetTables(c.Context)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func ping(c *cli.Context) error {
	d := driver(c)
	defer func() { _ = d.Release(c.Context) }()

	if err := d.TestConnection(c.Context); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}
