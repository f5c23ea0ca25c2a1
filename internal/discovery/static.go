package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mattjoyce/zonectl/internal/config"
	"github.com/mattjoyce/zonectl/internal/log"
	"github.com/mattjoyce/zonectl/internal/zone"
)

// Registrar receives discovered devices. *dispatch.Dispatcher satisfies it.
type Registrar interface {
	RegisterZoneAsAvailable(dev zone.Device, zoneName string) error
}

// Static announces the zones listed in configuration, each after its
// discover_after delay.
type Static struct {
	zones     []config.ZoneConfig
	registrar Registrar
	transport Transport
	logger    *slog.Logger
	onFound   func(zoneName string, dev zone.Device)
}

// NewStatic creates a static discovery source. A nil transport selects LogTransport.
func NewStatic(zones []config.ZoneConfig, registrar Registrar, transport Transport, logger *slog.Logger) *Static {
	if logger == nil {
		logger = log.WithComponent("discovery")
	}
	if transport == nil {
		transport = LogTransport{Logger: logger}
	}
	sorted := append([]config.ZoneConfig(nil), zones...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].DiscoverAfter < sorted[j].DiscoverAfter })
	return &Static{
		zones:     sorted,
		registrar: registrar,
		transport: transport,
		logger:    logger,
	}
}

// OnFound registers a callback invoked after each zone is announced.
func (s *Static) OnFound(fn func(zoneName string, dev zone.Device)) {
	s.onFound = fn
}

// Run announces every configured zone and returns once all are announced or ctx ends.
func (s *Static) Run(ctx context.Context) error {
	start := time.Now()
	for _, zc := range s.zones {
		if wait := zc.DiscoverAfter - time.Since(start); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		player := NewPlayer(zc.Name, zc.Address, s.transport)
		if err := s.registrar.RegisterZoneAsAvailable(player, zc.Name); err != nil {
			return fmt.Errorf("announce zone %q: %w", zc.Name, err)
		}
		s.logger.Info("zone discovered", "zone", zc.Name, "address", zc.Address)
		if s.onFound != nil {
			s.onFound(zc.Name, player)
		}
	}
	return nil
}
