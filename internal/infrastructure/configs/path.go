package configs

import (
	"flag"
	"os"

	"github.com/hilthontt/roomsync/internal/infrastructure/env"
)

// DetermineConfigPath resolves --config, then ROOMSYNC_CONFIG, then the
// usual locations. An empty result means defaults and environment only.
func DetermineConfigPath(fs *flag.FlagSet, args []string) string {
	var configPath string

	if fs != nil {
		fs.StringVar(&configPath, "config", "", "path to config file")
		_ = fs.Parse(args)
	}

	if configPath == "" {
		configPath = env.GetString("ROOMSYNC_CONFIG", "")
	}

	if configPath == "" {
		candidates := []string{
			"./config.yaml",
			"./config.yml",
			"../../config.yaml",
			"/etc/roomsync/config.yaml",
			"/app/config.yaml",
		}

		for _, p := range candidates {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}

	return configPath
}
