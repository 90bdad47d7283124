package main

import (
	"fmt"
	"os"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	log.Init(logrus.WarnLevel)

	app := &cli.App{
		Name:  "ticketsctl",
		Usage: "Operate the ball ticketing service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address or redis:// URL",
				EnvVars: []string{"REDIS_ADDR"},
				Value:   "localhost:6379",
			},
			&cli.StringFlag{
				Name:    "api-url",
				Usage:   "base URL of the ticketing API",
				EnvVars: []string{"BALLTICKETS_API_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.StringFlag{
				Name:    "admin-id",
				Usage:   "user ID the admin calls are made as",
				EnvVars: []string{"BALLTICKETS_ADMIN_ID"},
			},
			&cli.StringFlag{
				Name:    "proxy-token",
				Usage:   "token expected by the API from its fronting proxy",
				EnvVars: []string{"HEADER_AUTH_TOKEN"},
			},
		},
		Commands: []*cli.Command{
			poisonCommand(),
			sweepCommand(),
			lockdownCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
