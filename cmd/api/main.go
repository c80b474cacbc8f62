package main

import (
	"context"

	"github.com/alecthomas/kong"

	"brandlift/api/cmd/api/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool `help:"Enable debug logging."`
		Version kong.VersionFlag
		Serve   commands.ServeCmd   `cmd:"" default:"1" help:"Start the HTTP API"`
		Migrate commands.MigrateCmd `cmd:"" help:"Apply database migrations and exit"`
		Token   commands.TokenCmd   `cmd:"" help:"Issue an access token for local use"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("brandlift-api"),
		kong.Description("Brand lift study structure and approval service."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
