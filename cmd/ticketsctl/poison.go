package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"balltickets/pkg"
	"balltickets/pubsub/poison"
)

func poisonCommand() *cli.Command {
	return &cli.Command{
		Name:  "poison",
		Usage: "Manage messages that failed permanently",
		Subcommands: []*cli.Command{
			{
				Name:  "preview",
				Usage: "list messages in the poison queue",
				Action: withQueue(func(c *cli.Context, q *poison.Queue) error {
					messages, err := q.Preview(c.Context)
					if err != nil {
						return err
					}
					if len(messages) == 0 {
						fmt.Fprintln(c.App.Writer, "Poison queue is empty")
						return nil
					}

					w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tTOPIC\tHANDLER\tREASON")
					for _, m := range messages {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.ID, m.Topic, m.Handler, m.Reason)
					}
					return w.Flush()
				}),
			},
			{
				Name:      "remove",
				ArgsUsage: "<message_id>",
				Usage:     "drop a message for good",
				Action: withQueue(func(c *cli.Context, q *poison.Queue) error {
					id, err := messageID(c)
					if err != nil {
						return err
					}
					return q.Remove(c.Context, id)
				}),
			},
			{
				Name:      "requeue",
				ArgsUsage: "<message_id>",
				Usage:     "send a message back to the topic it failed on",
				Action: withQueue(func(c *cli.Context, q *poison.Queue) error {
					id, err := messageID(c)
					if err != nil {
						return err
					}
					return q.Requeue(c.Context, id)
				}),
			},
		},
	}
}

func withQueue(action func(c *cli.Context, q *poison.Queue) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		rdb := pkg.NewRedisClient(c.String("redis-addr"))
		defer rdb.Close()

		q, err := poison.NewRedisQueue(rdb, log.NewWatermill(logrus.NewEntry(logrus.StandardLogger())))
		if err != nil {
			return err
		}
		defer q.Close()

		return action(c, q)
	}
}

func messageID(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", cli.Exit("expected exactly one message ID", 2)
	}
	return c.Args().First(), nil
}
