package watchdog

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	LoopPeriod  time.Duration `envconfig:"WATCHDOG_LOOP_PERIOD" default:"30s"`
	Concurrency int           `envconfig:"WATCHDOG_CONCURRENCY" default:"4"`
	ItemTimeout time.Duration `envconfig:"WATCHDOG_ITEM_TIMEOUT" default:"45s"`
	BatchSize   int           `envconfig:"WATCHDOG_BATCH_SIZE" default:"200"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
