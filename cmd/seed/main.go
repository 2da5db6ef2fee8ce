/*
Command seed provisions the backing spreadsheet: it creates the four
worksheets if missing and resets them to their header rows and sample data.
Run it once against a fresh spreadsheet before starting the API. Re-running
it wipes all rows, interaction logs included.
*/
package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"dermassist/internal/config"
	"dermassist/internal/sheets"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	cfg, err := config.LoadSeed()
	if err != nil {
		log.Fatal().Err(err).Msg("ERROR: Missing credentials")
	}

	ctx := context.Background()

	client, err := sheets.NewClient(ctx, cfg.SheetID, cfg.GoogleCredsJSON)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing the Sheets client")
	}

	if err := client.Seed(ctx, cfg.DefaultUserID); err != nil {
		log.Fatal().Err(err).Msg("Seeding failed")
	}

	log.Info().Str("sheet_id", cfg.SheetID).Msg("Seeding complete")
}
