package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	ballhttp "balltickets/http"
	"balltickets/ticketing"
)

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:      "sweep",
		Usage:     "run one sweep tick now",
		ArgsUsage: "<expiry|allocation>",
		Action: func(c *cli.Context) error {
			tier, err := ticketing.ParseTier(c.Args().First())
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			var report struct {
				Skipped   bool     `json:"skipped"`
				Cancelled []string `json:"cancelled"`
				Allocated []string `json:"allocated_transactions"`
				HaltedAt  *string  `json:"halted_at"`
			}
			if err := adminCall(c, http.MethodPost, "/admin/sweep/"+string(tier), nil, &report); err != nil {
				return err
			}

			if report.Skipped {
				fmt.Fprintln(c.App.Writer, "Another sweep is running, nothing done")
				return nil
			}
			fmt.Fprintf(c.App.Writer, "Cancelled %d tickets, allocated %d transactions\n", len(report.Cancelled), len(report.Allocated))
			if report.HaltedAt != nil {
				fmt.Fprintf(c.App.Writer, "Waiting list halted at %s\n", *report.HaltedAt)
			}
			return nil
		},
	}
}

func lockdownCommand() *cli.Command {
	return &cli.Command{
		Name:      "lockdown",
		Usage:     "switch lockdown on or off",
		ArgsUsage: "<on|off>",
		Action: func(c *cli.Context) error {
			var on bool
			switch c.Args().First() {
			case "on":
				on = true
			case "off":
			default:
				return cli.Exit("expected on or off", 2)
			}

			return adminCall(c, http.MethodPut, "/admin/lockdown", map[string]bool{"on": on}, nil)
		},
	}
}

var apiClient = &http.Client{
	Transport: otelhttp.NewTransport(http.DefaultTransport),
	Timeout:   time.Minute,
}

func adminCall(c *cli.Context, method, path string, body, out any) error {
	adminID := c.String("admin-id")
	if adminID == "" {
		return cli.Exit("--admin-id is required", 2)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(
		c.Context,
		method,
		strings.TrimSuffix(c.String("api-url"), "/")+path,
		bytes.NewReader(payload),
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ballhttp.UserIDHeader, adminID)
	req.Header.Set(ballhttp.UserAdminHeader, "true")
	if token := c.String("proxy-token"); token != "" {
		req.Header.Set(ballhttp.ProxyTokenHeader, token)
	}

	resp, err := apiClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("%s %s: %d %s: %s", method, path, resp.StatusCode, apiErr.Code, apiErr.Message)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
