// Command configgen writes and validates relayctl config files.
package main

import (
	"flag"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/relaywire/internal/config"
	"github.com/danmuck/relaywire/internal/logging"
)

func main() {
	output := flag.String("output", "cmd/relayctl/config.toml", "output path for the relayctl config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "cmd/relayctl/config.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()
	logging.ConfigureRuntime()

	if *validate {
		if _, err := config.Validate(*input); err != nil {
			log.Fatal().Err(err).Msg("validation failed")
		}
		log.Info().Str("path", *input).Msg("validated relayctl config")
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal().Err(err).Msg("write failed")
	}
	log.Info().Str("path", *output).Msg("wrote relayctl config template")
}
