package connectors

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Factory builds a gateway from its catalog entry.
type Factory func(entry CatalogEntry, timeout time.Duration) Gateway

var factories = map[string]Factory{
	"bitget": func(e CatalogEntry, timeout time.Duration) Gateway { return NewBitgetGateway(e.BaseURL, timeout) },
	"okx":    func(e CatalogEntry, timeout time.Duration) Gateway { return NewOKXGateway(e.BaseURL, timeout) },
	"kucoin": func(e CatalogEntry, timeout time.Duration) Gateway { return NewKucoinGateway(e.BaseURL, timeout) },
	"phemex": func(e CatalogEntry, timeout time.Duration) Gateway {
		return NewPhemexGateway(e.BaseURL, e.TestnetURL, timeout)
	},
	"kraken": func(e CatalogEntry, timeout time.Duration) Gateway {
		return NewKrakenGateway(e.BaseURL, e.TestnetURL, timeout)
	},
}

// Registry maps exchange ids to gateways.
type Registry struct {
	catalog *Catalog

	mu       sync.RWMutex
	gateways map[uint]Gateway
}

// NewRegistry returns an empty registry. catalog may be nil, in which case only
// numeric selectors of registered gateways resolve.
func NewRegistry(catalog *Catalog) *Registry {
	return &Registry{
		catalog:  catalog,
		gateways: make(map[uint]Gateway),
	}
}

// NewDefaultRegistry loads the exchange catalog and registers a rate-limited
// gateway for every enabled exchange.
func NewDefaultRegistry(cfg Config) (*Registry, error) {
	catalog, err := LoadCatalog(cfg.ExchangeCatalogFile)
	if err != nil {
		return nil, err
	}

	reg := NewRegistry(catalog)
	for _, entry := range catalog.Exchanges {
		if !entry.Enabled {
			continue
		}
		factory, ok := factories[strings.ToLower(entry.Name)]
		if !ok {
			logger.WithFields(map[string]interface{}{
				"component": "registry",
				"exchange":  entry.Name,
			}).Warn("no gateway implementation for catalog entry, skipping")
			continue
		}

		var gw Gateway = factory(entry, cfg.GatewayTimeout)
		if entry.RatePerSecond > 0 {
			gw = NewRateLimitedGateway(gw, rate.Limit(entry.RatePerSecond), entry.Burst)
		}
		reg.Register(entry.ID, gw)
	}

	logger.WithFields(map[string]interface{}{
		"component": "registry",
		"count":     len(reg.gateways),
	}).Info("exchange gateways registered")

	return reg, nil
}

// Register installs gw for id, replacing any previous gateway.
func (r *Registry) Register(id uint, gw Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[id] = gw
}

// Gateway returns the gateway registered for id.
func (r *Registry) Gateway(id uint) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[id]
	if !ok || id == 0 {
		return nil, fmt.Errorf("%w: id %d", ErrUnsupportedExchange, id)
	}
	return gw, nil
}

// ResolveExchange maps a numeric id or exchange name (case-insensitive) to an
// exchange id. Unrecognized selectors resolve to 0 rather than failing.
func (r *Registry) ResolveExchange(selector string) uint {
	if r.catalog != nil {
		return r.catalog.Resolve(selector)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(selector), 10, 32)
	if err != nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.gateways[uint(n)]; ok {
		return uint(n)
	}
	return 0
}
