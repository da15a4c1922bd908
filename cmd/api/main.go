package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"agora/api/internal/config"
	"agora/api/internal/logging"
	"agora/api/internal/slug"
)

const version = "0.1.0"

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "agora",
		Usage:   "Conversations API with human-readable slugs",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				EnvVars: []string{"AGORA_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			slugifyCommand(),
		},
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations and exit",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
			db, err := openDatabase(c.Context, cfg, log)
			if err != nil {
				return err
			}
			log.Info().Str("dir", cfg.MigrationsDir).Msg("schema up to date")
			return db.Close()
		},
	}
}

func slugifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "slugify",
		Usage:     "Print the slug base derived from TEXT",
		ArgsUsage: "TEXT",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "seed",
				Usage: "Reduce TEXT to its first sentence before slugifying",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("slugify requires TEXT", 2)
			}
			text := strings.Join(c.Args().Slice(), " ")
			if c.Bool("seed") {
				text = slug.ExtractSeed(text)
			}
			fmt.Fprintln(c.App.Writer, slug.Base(text))
			return nil
		},
	}
}
