package discovery

import (
	"context"
	"log/slog"
)

// Transport carries an action to a player at address.
type Transport interface {
	Send(ctx context.Context, address, action string, params map[string]string) error
}

// LogTransport logs actions instead of sending them (dry run).
type LogTransport struct {
	Logger *slog.Logger
}

func (t LogTransport) Send(ctx context.Context, address, action string, params map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.Logger.Info("dry-run action", "address", address, "action", action, "params", params)
	return nil
}

// Player is the device handle announced for a zone.
type Player struct {
	name      string
	address   string
	transport Transport
}

func NewPlayer(name, address string, transport Transport) *Player {
	return &Player{name: name, address: address, transport: transport}
}

func (p *Player) Name() string    { return p.name }
func (p *Player) Address() string { return p.address }

// Perform implements action.Performer.
func (p *Player) Perform(ctx context.Context, action string, params map[string]string) error {
	return p.transport.Send(ctx, p.address, action, params)
}
