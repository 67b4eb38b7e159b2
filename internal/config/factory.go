package config

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// FromCobraCmd creates an IRConfig instance from a cobra command object. It exits the process if the
// configuration cannot be loaded or is invalid.
func FromCobraCmd(cmd *cobra.Command) *IRConfig {
	var flags *pflag.FlagSet
	if cmd.Name() == "ingestctl" {
		flags = cmd.PersistentFlags()
	} else {
		flags = cmd.InheritedFlags()
	}

	var paths []string
	if flag := flags.Lookup("config"); flag != nil && flag.Changed {
		fileLoc, err := flags.GetString("config")
		if err != nil {
			log.Fatal().Err(err).Msg("Could not get file location")
		}
		paths = append(paths, fileLoc)
	}

	conf, err := LoadConfig(paths...)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config file")
	}
	if err := conf.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	return conf
}
