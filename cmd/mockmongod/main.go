// mockmongod runs a standalone mock replica set: it prints the
// connection string, echoes every request that reaches the funnel, and
// answers queries with a canned reply until interrupted. Useful for
// poking at a driver's topology handling by hand.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/goccy/go-yaml"
	commands "github.com/urfave/cli/v3"
	"gopkg.in/inconshreveable/log15.v2"

	"github.com/ociule/mockmongo/replset"
	"github.com/ociule/mockmongo/wire"
)

type harnessConfig struct {
	MaxWireVersion int  `yaml:"maxWireVersion"`
	Secondaries    int  `yaml:"secondaries"`
	Arbiters       int  `yaml:"arbiters"`
	Verbose        bool `yaml:"verbose"`

	// Reply holds the documents returned for every query the funnel
	// sees. Empty means an empty result set.
	Reply struct {
		Documents []map[string]interface{} `yaml:"documents"`
	} `yaml:"reply"`
}

func defaultConfig() harnessConfig {
	return harnessConfig{MaxWireVersion: 6, Secondaries: 1}
}

func loadConfig(path string) (harnessConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func main() {
	cmd := &commands.Command{
		Name:  "mockmongod",
		Usage: "Run a mock MongoDB replica set",
		Commands: []*commands.Command{
			{
				Name:  "run",
				Usage: "Start the replica set and echo client requests",
				Flags: []commands.Flag{
					&commands.StringFlag{
						Name:    "config",
						Usage:   "YAML config file",
						Aliases: []string{"c"},
					},
					&commands.IntFlag{
						Name:  "secondaries",
						Usage: "Number of secondary members",
					},
					&commands.IntFlag{
						Name:  "arbiters",
						Usage: "Number of arbiter members",
					},
					&commands.IntFlag{
						Name:  "max-wire-version",
						Usage: "maxWireVersion advertised in handshakes",
					},
					&commands.BoolFlag{
						Name:    "verbose",
						Usage:   "Log wire traffic",
						Aliases: []string{"v"},
					},
				},
				Action: run,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log15.Crit("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *commands.Command) error {
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	// Flags win over the config file.
	if cmd.IsSet("secondaries") {
		cfg.Secondaries = int(cmd.Int("secondaries"))
	}
	if cmd.IsSet("arbiters") {
		cfg.Arbiters = int(cmd.Int("arbiters"))
	}
	if cmd.IsSet("max-wire-version") {
		cfg.MaxWireVersion = int(cmd.Int("max-wire-version"))
	}
	if cmd.IsSet("verbose") {
		cfg.Verbose = cmd.Bool("verbose")
	}

	rs := replset.New(cfg.MaxWireVersion, cfg.Secondaries, cfg.Arbiters)
	rs.SetVerbose(cfg.Verbose)
	if err := rs.Run(); err != nil {
		return err
	}
	defer rs.Destroy()

	fmt.Println(color.GreenString("connect to: %s", rs.URI()))

	replyDocs := make([]interface{}, len(cfg.Reply.Documents))
	for i, doc := range cfg.Reply.Documents {
		replyDocs[i] = doc
	}

	logger := rs.Logger.New("fn", "run")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sig:
			logger.Info("shutting down")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		request := rs.Receives()
		if request == nil {
			continue
		}

		fmt.Println(color.CyanString("request: %s", request.String()))

		// Legacy writes and killCursors expect no reply.
		if request.OpCode() == wire.OpQuery || request.OpCode() == wire.OpGetMore {
			err := rs.Replies(request, wire.ReplyNone, 0, 0, int32(len(replyDocs)), replyDocs...)
			if err != nil {
				logger.Error("error replying", "err", err)
			}
		}
	}
}
