// Command ledgerctl works the shop's ledger from a terminal: balances, counter sales,
// reversals and spreadsheet exports against the same store the server uses.
package main

import (
	"context"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/mattn/go-isatty"

	"queijaria/backend/internal/bootstrap"
	"queijaria/backend/internal/config"
	"queijaria/backend/internal/domain"
	"queijaria/backend/internal/service"
)

type Globals struct {
	Operator string `help:"Name recorded in the audit log." default:"ledgerctl" env:"LEDGERCTL_OPERATOR"`
}

type CLI struct {
	Globals

	Balances BalancesCmd `cmd:"" help:"Show on-hand stock per product and batch."`
	Sell     SellCmd     `cmd:"" help:"Record a counter sale."`
	Reverse  ReverseCmd  `cmd:"" help:"Reverse a finalized sale."`
	Export   ExportCmd   `cmd:"" help:"Write the ledger, stock and sales to an XLSX workbook."`
}

var cli CLI

// App is what every command runs against.
type App struct {
	ctx         context.Context
	svc         *service.Service
	out         io.Writer
	interactive bool
}

func main() {
	cfg := config.Load()
	cfg.ConfigureLogging()

	kctx := kong.Parse(&cli,
		kong.Name("ledgerctl"),
		kong.Description("Inventory ledger and sales for the cheese shop."),
		kong.UsageOnError(),
	)

	base := context.Background()
	repo, closeRepo, err := bootstrap.OpenRepository(base, cfg)
	kctx.FatalIfErrorf(err)

	app := &App{
		ctx:         service.WithActor(base, domain.Actor{Username: cli.Operator, Role: domain.RoleAdmin}),
		svc:         service.New(repo, service.Options{}),
		out:         os.Stdout,
		interactive: isatty.IsTerminal(os.Stdin.Fd()),
	}
	err = kctx.Run(app)
	_ = closeRepo()
	kctx.FatalIfErrorf(err)
}
