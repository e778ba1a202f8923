package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/achneerov/algolounge-voice/internal/core"
	"github.com/achneerov/algolounge-voice/internal/devserver"
)

func main() {
	app := &cli.App{
		Name:        "algolounge-devserver",
		Usage:       "Loopback voice signaling server",
		Description: "Speaks the voice namespace wire contract against in-memory rooms; no media flows.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
				Value: "development",
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, example: ':8080'",
				Value: ":8080",
			},
		},
		Action: startServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startServer(c *cli.Context) error {
	app := devserver.New(devserver.AppOptions{
		Address: c.String("address"),
		Env:     core.Environment(c.String("env")),
	})

	return app.Start()
}
