package main

import (
	"flag"

	"github.com/danmuck/atomlink/internal/config"
	"github.com/danmuck/atomlink/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	kind := flag.String("kind", "atomctl", "template kind: atomctl|minimal")
	output := flag.String("output", "cmd/atomctl/config.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "cmd/atomctl/config.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	logging.ConfigureRuntime()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal().Msgf("configgen.Validate path=%s err=%v", *input, err)
		}
		log.Info().Msgf("Validated config at %s (port=%s worst_case=%s)", *input, cfg.Serial.Port, cfg.Session().WorstCase())
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal().Msgf("configgen.Write path=%s err=%v", *output, err)
	}
	log.Info().Msgf("Wrote %s config template to %s", *kind, *output)
}
