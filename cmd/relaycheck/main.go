package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/park285/cheese-relay/internal/relayclient"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "relaycheck",
		Usage: "smoke-test a running chess relay",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "relay HTTP base URL",
				Value:   "http://localhost:8080",
				Sources: cli.EnvVars("RELAY_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "ws-path",
				Usage:   "websocket path on the relay",
				Value:   "/ws",
				Sources: cli.EnvVars("RELAY_WS_PATH"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "overall timeout per command",
				Value: 10 * time.Second,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "health",
				Usage: "GET /healthz",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
					defer cancel()
					if err := newClient(cmd).Health(ctx); err != nil {
						return err
					}
					fmt.Println("ok")
					return nil
				},
			},
			{
				Name:  "stats",
				Usage: "GET /stats",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
					defer cancel()
					st, err := newClient(cmd).Stats(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("waiting=%d active=%d started=%d connections=%d\n", st.Waiting, st.ActiveGames, st.GamesStarted, st.Connections)
					return nil
				},
			},
			{
				Name:  "selfplay",
				Usage: "pair two clients and play fool's mate over the websocket",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
					defer cancel()
					wsURL, err := websocketURL(cmd.String("base-url"), cmd.String("ws-path"))
					if err != nil {
						return err
					}
					over, err := relayclient.SelfPlay(ctx, wsURL, relayclient.FoolsMate)
					if err != nil {
						return err
					}
					fmt.Printf("game %s over: %s %s\n%s\n", over.GameID, over.Reason, over.Result, over.PGN)
					return nil
				},
			},
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("relaycheck: %v", err)
	}
}

func newClient(cmd *cli.Command) *relayclient.Client {
	return relayclient.NewClient(cmd.String("base-url"), relayclient.WithTimeout(cmd.Duration("timeout")))
}

// websocketURL turns http(s)://host into ws(s)://host/path.
func websocketURL(base, path string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("base-url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("base-url: unsupported scheme %q", u.Scheme)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}
