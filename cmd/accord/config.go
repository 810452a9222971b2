package main

import (
	"path/filepath"

	"github.com/metalagman/accord/internal/config"
)

// loadConfig reads --config, or .accord/config.yaml under root when it exists.
func loadConfig(root string) (config.Config, error) {
	path := cfgFile
	allowMissing := path == ""
	if path == "" {
		path = config.DefaultPath(root)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	return config.Load(path, allowMissing)
}
