package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mattjoyce/zonectl/internal/zone"
)

//go:generate mockgen -destination=mocks/mock_player.go -package=mocks github.com/mattjoyce/zonectl/internal/action Player

var (
	// ErrNoDevice is returned when a command runs before its zone was discovered.
	ErrNoDevice = errors.New("no device attached")
	// ErrUnsupportedDevice is returned when the device cannot perform actions.
	ErrUnsupportedDevice = errors.New("device does not perform actions")
	// ErrEmptyAction is returned by Parse for a blank action spec.
	ErrEmptyAction = errors.New("action name is empty")
)

// Performer is implemented by devices that can carry out a named action.
type Performer interface {
	Perform(ctx context.Context, action string, params map[string]string) error
}

// Player is a device that can perform actions.
type Player interface {
	zone.Device
	Performer
}

// Command is a named action with string parameters, identified by a UUID.
type Command struct {
	id     string
	name   string
	params map[string]string
}

// New returns a Command for action name with a fresh ID.
func New(name string, params map[string]string) *Command {
	if params == nil {
		params = map[string]string{}
	}
	return &Command{
		id:     uuid.NewString(),
		name:   name,
		params: params,
	}
}

// Parse builds a Command from "name" or "name:key=value,key=value".
func Parse(spec string) (*Command, error) {
	spec = strings.TrimSpace(spec)
	name, rest, hasParams := strings.Cut(spec, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyAction
	}

	params := map[string]string{}
	if hasParams {
		for _, pair := range strings.Split(rest, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			k, v, ok := strings.Cut(pair, "=")
			k = strings.TrimSpace(k)
			if !ok || k == "" {
				return nil, fmt.Errorf("action %q: malformed parameter %q (want key=value)", name, pair)
			}
			params[k] = strings.TrimSpace(v)
		}
	}
	return New(name, params), nil
}

func (c *Command) ID() string   { return c.id }
func (c *Command) Name() string { return c.name }

// Params returns a copy of the command parameters.
func (c *Command) Params() map[string]string {
	out := make(map[string]string, len(c.params))
	for k, v := range c.params {
		out[k] = v
	}
	return out
}

// Execute asks dev to perform the action.
func (c *Command) Execute(ctx context.Context, dev zone.Device) error {
	if dev == nil {
		return fmt.Errorf("%s: %w", c.name, ErrNoDevice)
	}
	p, ok := dev.(Performer)
	if !ok {
		return fmt.Errorf("%s on %s: %w", c.name, dev.Name(), ErrUnsupportedDevice)
	}
	if err := p.Perform(ctx, c.name, c.Params()); err != nil {
		return fmt.Errorf("%s on %s: %w", c.name, dev.Name(), err)
	}
	return nil
}

// String renders the command in Parse syntax with sorted parameters.
func (c *Command) String() string {
	if len(c.params) == 0 {
		return c.name
	}
	keys := make([]string, 0, len(c.params))
	for k := range c.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+c.params[k])
	}
	return c.name + ":" + strings.Join(pairs, ",")
}
