package ledger

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	MaxRetries int `envconfig:"LEDGER_MAX_RETRIES" default:"3"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
