package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	GatewayTimeout      time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"15s"`
	ExchangeCatalogFile string        `envconfig:"EXCHANGE_CATALOG_FILE"`

	ReferencePriceEnabled  bool          `envconfig:"REFERENCE_PRICE_ENABLED" default:"true"`
	ReferencePriceEndpoint string        `envconfig:"REFERENCE_PRICE_ENDPOINT" default:"https://api.binance.com"`
	ReferencePriceTimeout  time.Duration `envconfig:"REFERENCE_PRICE_TIMEOUT" default:"10s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
