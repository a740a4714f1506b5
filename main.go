// batdongsan-etl - staged warehouse loader for batdongsan.com.vn listings
//
// Usage:
//   batdongsan-etl run                 full pipeline: scrape → stage → dimensions → facts
//   batdongsan-etl scrape [--url URL]  scrape and replace the staging table
//   batdongsan-etl dimensions          reconcile the four dimension tables from staging
//   batdongsan-etl facts               resolve foreign keys and upsert the fact table
//   batdongsan-etl quality             print a quality report over the fact table
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"batdongsan-etl/config"
	"batdongsan-etl/models"
	"batdongsan-etl/pipeline"
	"batdongsan-etl/scraper/batdongsan"
	"batdongsan-etl/services"
	"batdongsan-etl/storage"
	"batdongsan-etl/utils"
)

func main() {
	app := &cli.App{
		Name:  "batdongsan-etl",
		Usage: "Scrape batdongsan.com.vn listings into a staged Postgres warehouse",
		Commands: []*cli.Command{
			runCommand(),
			scrapeCommand(),
			dimensionsCommand(),
			factsCommand(),
			qualityCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the full pipeline: scrape, stage, reconcile dimensions, reconcile facts",
		Flags: []cli.Flag{urlFlag()},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			defer logger.Close()

			store, err := storage.NewPostgresStore(cfg.DSN(), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := scrapeAndNormalize(cfg, logger)
			if err != nil {
				return err
			}
			return pipeline.New(store, logger).Run(records)
		},
	}
}

func scrapeCommand() *cli.Command {
	return &cli.Command{
		Name:  "scrape",
		Usage: "Scrape the configured search URL and replace the staging table",
		Flags: []cli.Flag{urlFlag()},
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			defer logger.Close()

			store, err := storage.NewPostgresStore(cfg.DSN(), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := scrapeAndNormalize(cfg, logger)
			if err != nil {
				return err
			}
			_, err = pipeline.New(store, logger).Stage(records)
			return err
		},
	}
}

func dimensionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "dimensions",
		Usage: "Insert dimension values present in staging but missing from the warehouse",
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			defer logger.Close()

			store, err := storage.NewPostgresStore(cfg.DSN(), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			return pipeline.New(store, logger).ReconcileDimensions()
		},
	}
}

func factsCommand() *cli.Command {
	return &cli.Command{
		Name:  "facts",
		Usage: "Resolve staging rows against the dimensions and upsert the fact table",
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			defer logger.Close()

			store, err := storage.NewPostgresStore(cfg.DSN(), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			_, err = pipeline.New(store, logger).ReconcileFacts()
			return err
		},
	}
}

func qualityCommand() *cli.Command {
	return &cli.Command{
		Name:  "quality",
		Usage: "Print a data-quality report over the fact table",
		Action: func(c *cli.Context) error {
			cfg, logger, err := setup(c)
			if err != nil {
				return err
			}
			defer logger.Close()

			store, err := storage.NewPostgresStore(cfg.DSN(), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			facts, err := store.FetchFacts()
			if err != nil {
				return err
			}
			typeIDs, err := store.TypeIDs()
			if err != nil {
				return err
			}
			typeNames := make(map[int64]string, len(typeIDs))
			for name, id := range typeIDs {
				typeNames[id] = name
			}

			svc := services.NewQualityService(logger)
			svc.Print(svc.Generate(facts, typeNames))
			return nil
		},
	}
}

func urlFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "url",
		Usage: "Search URL to scrape (overrides SCRAPE_URL)",
	}
}

func setup(c *cli.Context) (*config.Config, *utils.Logger, error) {
	cfg := config.Load()
	if url := c.String("url"); url != "" {
		cfg.ScrapeURL = url
	}

	if cfg.LogFilePath != "" {
		logger, err := utils.NewFileLogger(cfg.LogFilePath)
		if err != nil {
			return nil, nil, err
		}
		return cfg, logger, nil
	}
	return cfg, utils.NewLogger(), nil
}

func scrapeAndNormalize(cfg *config.Config, logger *utils.Logger) ([]*models.StagingRecord, error) {
	raw, err := batdongsan.New(cfg, logger).Scrape()
	if err != nil {
		return nil, fmt.Errorf("scrape failed: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no listings were scraped")
	}

	if csvWriter, err := storage.NewCSVWriter(cfg.CSVOutputPath); err != nil {
		logger.Error("Failed to create CSV writer: %v", err)
	} else {
		if err := csvWriter.WriteRaw(raw); err != nil {
			logger.Error("CSV write failed: %v", err)
		} else {
			logger.Info("Raw listings saved to %s", cfg.CSVOutputPath)
		}
		csvWriter.Close()
	}

	normalizer := services.NewNormalizer(logger)
	records := normalizer.Normalize(raw, time.Now())
	if len(records) == 0 {
		return nil, fmt.Errorf("all listings were dropped during normalization")
	}
	return records, nil
}
