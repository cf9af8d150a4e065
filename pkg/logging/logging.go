// Package logging configures the apex/log logger of the command.
package logging

import (
	"fmt"
	"io"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
	"github.com/apex/log/handlers/text"

	"github.com/gregLibert/zairyu-nfc/pkg/config"
)

// New builds a logger writing to w with the level and format of cfg.
func New(cfg config.LogConfig, w io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var handler log.Handler
	switch cfg.Format {
	case "", "text":
		handler = text.New(w)
	case "json":
		handler = json.New(w)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	return &log.Logger{Handler: handler, Level: level}, nil
}

// Initialize installs the logger built from cfg as the package-level apex/log logger and
// returns it.
func Initialize(cfg config.LogConfig, w io.Writer) (log.Interface, error) {
	logger, err := New(cfg, w)
	if err != nil {
		return nil, err
	}
	log.SetHandler(logger.Handler)
	log.SetLevel(logger.Level)
	return log.Log, nil
}
