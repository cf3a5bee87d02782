package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guseggert/uciproc/agent"
	"github.com/guseggert/uciproc/engine"
	"github.com/guseggert/uciproc/internal/config"
	"github.com/guseggert/uciproc/work"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	app := &cli.App{
		Name:  "uciagent",
		Usage: "serve a UCI chess engine over HTTP",
		Commands: []*cli.Command{
			serveCommand,
			analyseCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "run the engine and serve positions",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "Path to a YAML config file.",
		},
		&cli.StringFlag{
			Name:  "engine",
			Usage: "The engine executable, overrides the config file.",
		},
		&cli.StringFlag{
			Name:  "eval-file",
			Usage: "The NNUE network to load, overrides the config file.",
		},
		&cli.StringFlag{
			Name:  "listen-addr",
			Usage: "The address for the HTTP server to listen on, overrides the config file.",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "One of [debug,info,warn,error], overrides the config file.",
		},
		&cli.DurationFlag{
			Name:  "drain-timeout",
			Usage: "How long to wait for in-flight positions on shutdown before killing the engine.",
			Value: 30 * time.Second,
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg := config.Default()
		if path := cctx.String("config"); path != "" {
			var err error
			cfg, err = config.Load(path)
			if err != nil {
				return err
			}
		}
		if v := cctx.String("engine"); v != "" {
			cfg.Engine.Command = v
		}
		if v := cctx.String("eval-file"); v != "" {
			cfg.Engine.EvalFile = v
		}
		if v := cctx.String("listen-addr"); v != "" {
			cfg.ListenAddr = v
		}
		if v := cctx.String("log-level"); v != "" {
			cfg.LogLevel = v
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		level, _ := cfg.Level()
		zapCfg := zap.NewProductionConfig()
		zapCfg.Level = zap.NewAtomicLevelAt(level)
		logger, err := zapCfg.Build()
		if err != nil {
			return fmt.Errorf("building logger: %w", err)
		}
		defer logger.Sync() //nolint:errcheck

		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working dir: %w", err)
		}
		engineCfg, err := cfg.EngineConfig(wd)
		if err != nil {
			return err
		}

		sigCtx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		// the actor outlives the HTTP server, so that positions in flight at shutdown are still answered
		actorCtx, cancelActor := context.WithCancel(context.Background())
		defer cancelActor()

		handle, actor := engine.New(engineCfg, engine.WithLogger(logger))
		a := agent.New(handle, agent.WithLogger(logger), agent.WithListenAddr(cfg.ListenAddr))

		group, ctx := errgroup.WithContext(sigCtx)
		group.Go(func() error {
			if err := actor.Run(actorCtx); err != nil {
				return err
			}
			return errEngineStopped
		})
		group.Go(a.Run)
		group.Go(func() error {
			<-ctx.Done()
			defer cancelActor()
			drainCtx, cancel := context.WithTimeout(context.Background(), cctx.Duration("drain-timeout"))
			defer cancel()
			logger.Info("draining in-flight positions")
			if err := a.Shutdown(drainCtx); err != nil {
				logger.Sugar().Warnf("error draining positions: %s", err)
				return a.Stop()
			}
			return nil
		})

		err = group.Wait()
		if sigCtx.Err() != nil {
			logger.Info("shut down by signal")
			return nil
		}
		return err
	},
}

var errEngineStopped = errors.New("engine stopped")

var analyseCommand = &cli.Command{
	Name:      "analyse",
	Usage:     "submit a position to a running agent and print the response",
	ArgsUsage: "POSITION_JSON_FILE",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "addr",
			Usage: "The address of the agent.",
			Value: "127.0.0.1:8080",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "How long to wait for the engine.",
			Value: time.Minute,
		},
	},
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return errors.New("expected exactly one position file")
		}
		b, err := os.ReadFile(cctx.Args().First())
		if err != nil {
			return fmt.Errorf("reading position: %w", err)
		}
		var pos work.Position
		if err := json.Unmarshal(b, &pos); err != nil {
			return fmt.Errorf("decoding position: %w", err)
		}

		ctx, cancel := context.WithTimeout(cctx.Context, cctx.Duration("timeout"))
		defer cancel()

		client := agent.NewClient(cctx.String("addr"))
		res, err := client.Analyse(ctx, pos)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}
