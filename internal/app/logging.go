package app

import (
	"strings"

	"github.com/syntaxvpn/vpnpool/internal/config"

	log "github.com/sirupsen/logrus"
)

// ConfigureLogging applies the logging section to the standard logger.
func ConfigureLogging(cfg config.LoggingConfig) {
	if cfg.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	level, errLevel := log.ParseLevel(strings.TrimSpace(cfg.Level))
	if errLevel != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
}
