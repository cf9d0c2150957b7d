package keys

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// DefaultExchange is used when set_key omits the exchange.
	DefaultExchange string `envconfig:"KEYS_DEFAULT_EXCHANGE" default:"bitget"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
