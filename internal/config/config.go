package config

import (
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap"
)

// Config holds the process settings.
type Config struct {
	Bind         string
	Port         int
	CrimesPath   string
	EvidencePath string
	Verbose      bool
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	return nil
}

func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// NewLogger builds the process logger and installs it as the zap global, so
// the rest of the code can just call zap.S().
func NewLogger(verbose bool) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error
	if verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}
