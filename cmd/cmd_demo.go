package main

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"github.com/qbloq/askdb/core"
	"github.com/qbloq/askdb/serv"

	_ "modernc.org/sqlite"
)

var (
	demoFile string
	demoRows int
)

// demoCmd is the cobra CLI command for the demo subcommand
func demoCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "demo",
		Short: "Run the service against a seeded demo database",
		Long: `Create a local SQLite database with a small web-shop dataset
(customers, products, orders) and start the service against it. No
configuration required.`,
		Run: cmdDemo,
	}
	c.Flags().StringVar(&demoFile, "file", "askdb_demo.db", "demo database file")
	c.Flags().IntVar(&demoRows, "rows", 200, "orders to seed")
	return c
}

// cmdDemo is the handler for the demo subcommand
func cmdDemo(cmd *cobra.Command, args []string) {
	printBanner()

	if err := seedDemoDB(demoFile, demoRows); err != nil {
		log.Fatalf("Failed to seed demo database: %s", err)
	}
	log.Infof("Seeded demo database: %s", demoFile)

	conf = &serv.Config{}
	conf.AppName = "AskDB Demo"
	conf.LogLevel = "info"
	conf.HostPort = "0.0.0.0:8080"
	conf.Databases = []core.DatabaseConfig{{
		Name: core.DefaultBackendID,
		Type: "sqlite",
		URL:  "sqlite://" + demoFile,
	}}

	ad, err := serv.NewAskDBService(conf)
	if err != nil {
		log.Fatalf("%s", err)
	}

	fmt.Println(`Try:  askdb query "how many customers are there?"`)
	fmt.Println(`      askdb query "revenue by month"`)
	fmt.Println()

	if err := ad.Start(); err != nil {
		log.Fatalf("%s", err)
	}
}

const demoDDL = `
CREATE TABLE IF NOT EXISTS customers (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	city TEXT,
	status TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	category TEXT NOT NULL,
	price REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY,
	customer_id INTEGER NOT NULL REFERENCES customers(id),
	product_id INTEGER NOT NULL REFERENCES products(id),
	quantity INTEGER NOT NULL,
	amount REAL NOT NULL,
	ordered_at TIMESTAMP NOT NULL
);
`

// seedDemoDB creates and fills the demo database. Re-running against
// an existing file is a no-op.
func seedDemoDB(file string, rows int) error {
	db, err := sql.Open("sqlite", file)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	if _, err := db.Exec(demoDDL); err != nil {
		return err
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM customers").Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	faker := gofakeit.New(11)

	nCustomers := rows / 4
	if nCustomers < 10 {
		nCustomers = 10
	}
	statuses := []string{"active", "active", "active", "inactive"}
	for i := 1; i <= nCustomers; i++ {
		_, err := db.Exec(
			`INSERT INTO customers (id, name, email, city, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			i, faker.Name(), faker.Email(), faker.City(),
			statuses[faker.Number(0, len(statuses)-1)],
			faker.DateRange(time.Now().AddDate(-2, 0, 0), time.Now()),
		)
		if err != nil {
			return err
		}
	}

	nProducts := 25
	for i := 1; i <= nProducts; i++ {
		_, err := db.Exec(
			`INSERT INTO products (id, name, category, price) VALUES (?, ?, ?, ?)`,
			i, faker.ProductName(), faker.ProductCategory(),
			faker.Price(2, 400),
		)
		if err != nil {
			return err
		}
	}

	for i := 1; i <= rows; i++ {
		qty := faker.Number(1, 5)
		price := faker.Price(2, 400)
		_, err := db.Exec(
			`INSERT INTO orders (id, customer_id, product_id, quantity, amount, ordered_at) VALUES (?, ?, ?, ?, ?, ?)`,
			i, faker.Number(1, nCustomers), faker.Number(1, nProducts),
			qty, float64(qty)*price,
			faker.DateRange(time.Now().AddDate(-1, 0, 0), time.Now()),
		)
		if err != nil {
			return err
		}
	}

	return nil
}
