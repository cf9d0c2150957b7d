package controller

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// MinBalance rejects entries when the exchange balance is below it. 0 disables the check.
	MinBalance float64 `envconfig:"CONTROLLER_MIN_BALANCE" default:"0"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
