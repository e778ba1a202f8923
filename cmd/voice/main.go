package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/achneerov/algolounge-voice/internal/config"
	"github.com/achneerov/algolounge-voice/internal/core"
	"github.com/achneerov/algolounge-voice/internal/session"
)

func main() {
	app := &cli.App{
		Name:        "algolounge-voice",
		Usage:       "Voice session client",
		Description: "Joins an AlgoLounge practice-room voice session and mirrors the roster to the log.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
				Value: "development",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "optional yaml config file",
			},
			&cli.StringFlag{
				Name:  "server",
				Usage: "voice namespace endpoint, example: 'ws://localhost:8080/voice'",
			},
			&cli.StringFlag{
				Name:  "token",
				Usage: "bearer credential for the voice namespace",
			},
			&cli.Int64Flag{
				Name:     "session",
				Usage:    "session id to join",
				Required: true,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func run(c *cli.Context) error {
	initLogger(core.Environment(c.String("env")))

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if server := c.String("server"); server != "" {
		cfg.ServerURL = server
	}
	if token := c.String("token"); token != "" {
		cfg.AuthToken = token
	}

	sessionID := core.SessionID(c.Int64("session"))
	orch := session.New(cfg)

	orch.SubscribeErrors(func(msg string) {
		log.Warn().Str("service", "voice").Msg(msg)
	})
	orch.SubscribeParticipants(func(state core.ParticipantState) {
		log.Info().Str("service", "voice").Int("participants", len(state)).Msg("roster updated")
	})

	if err := orch.Connect(c.Context, sessionID); err != nil {
		return err
	}
	defer orch.Disconnect()

	log.Info().Str("service", "voice").Str("sessionID", sessionID.String()).Msg("connected, ctrl-c to leave")

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case <-interrupt:
		log.Info().Str("service", "voice").Msg("leaving session")
	case <-c.Context.Done():
	}

	return nil
}

func initLogger(env core.Environment) {
	cw := zerolog.NewConsoleWriter()
	log.Logger = log.Output(cw)

	level := zerolog.InfoLevel
	if env.IsDevelopment() {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
}
