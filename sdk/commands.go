package sdk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tapistry/sdk/collectors"
	"tapistry/shared/config"
	"tapistry/shared/events"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArguments   = errors.New("bad command arguments")
)

type command struct {
	name string
	run  func()
}

// ConsentUpdate changes only the fields that are set.
type ConsentUpdate struct {
	Analytics *bool
	Replay    *bool
}

// do runs fn now if the client is ready, queues it otherwise, and drops
// it when tracking is disabled.
func (c *Client) do(name string, fn func()) {
	c.mu.Lock()
	switch {
	case c.disabled:
		c.mu.Unlock()
		return
	case !c.ready:
		c.pending = append(c.pending, command{name: name, run: fn})
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

// Config merges overrides into the live configuration.
func (c *Client) Config(o config.SDKOverrides) {
	c.do("config", func() {
		snap := c.cfg.Update(o)
		if o.Debug != nil {
			c.setDebug(snap.Debug)
		}
	})
}

// Identify attaches userID to this and future events and records an
// identify event carrying traits.
func (c *Client) Identify(ctx context.Context, userID string, traits map[string]any) {
	ctx = context.WithoutCancel(ctx)
	c.do("identify", func() {
		if !c.analyticsAllowed() {
			return
		}
		c.session.Identify(ctx, userID)
		c.pipeline.Enqueue(events.Event{
			Kind:    events.KindIdentify,
			Payload: map[string]any{"traits": traits},
		})
	})
}

// Track records a custom event.
func (c *Client) Track(name string, props map[string]any) {
	c.do("track", func() {
		if !c.analyticsAllowed() {
			return
		}
		c.pipeline.Enqueue(events.Event{
			Kind:    events.KindCustom,
			Payload: map[string]any{"name": name, "properties": props},
		})
	})
}

// Page records a page view for the current location.
func (c *Client) Page(name string, props map[string]any) {
	c.do("page", func() {
		if !c.analyticsAllowed() {
			return
		}
		c.pageViews.TrackPage(name, props)
	})
}

// SetConsent withdrawing analytics stops collection and delivery; granting
// it again restarts both.
func (c *Client) SetConsent(u ConsentUpdate) {
	c.do("setConsent", func() {
		c.mu.Lock()
		if u.Analytics != nil {
			c.consent.Analytics = *u.Analytics
		}
		if u.Replay != nil {
			c.consent.Replay = *u.Replay
		}
		c.mu.Unlock()

		if u.Analytics == nil {
			return
		}
		if *u.Analytics {
			c.pipeline.Start()
			c.startCollectors()
			return
		}
		c.stopCollectors()
		c.pipeline.Stop()
	})
}

// Reset forgets the user and starts a new anonymous visitor.
func (c *Client) Reset(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	c.do("reset", func() {
		c.session.Reset(ctx)
		for _, col := range c.collectors {
			if r, ok := col.(collectors.Resetter); ok {
				r.Reset()
			}
		}
	})
}

func (c *Client) Debug(enable bool) {
	c.do("debug", func() {
		c.cfg.Update(config.SDKOverrides{Debug: &enable})
		c.setDebug(enable)
	})
}

func (c *Client) setDebug(enable bool) {
	if enable {
		c.log.SetLevel("debug")
		return
	}
	c.log.SetLevel("info")
}

// Execute runs a command by name, the way a host script queues them:
//
//	config     config.SDKOverrides
//	identify   userID string, [traits map[string]any]
//	track      name string, [props map[string]any]
//	page       [name string], [props map[string]any]
//	setConsent ConsentUpdate
//	reset
//	debug      bool
func (c *Client) Execute(ctx context.Context, name string, args ...any) error {
	switch name {
	case "config":
		o, err := argAt[config.SDKOverrides](args, 0, true)
		if err != nil {
			return c.badArgs(ctx, name, err)
		}
		c.Config(o)
	case "identify":
		uid, err := argAt[string](args, 0, true)
		if err != nil {
			return c.badArgs(ctx, name, err)
		}
		traits, err := argAt[map[string]any](args, 1, false)
		if err != nil {
			return c.badArgs(ctx, name, err)
		}
		c.Identify(ctx, uid, traits)
	case "track":
		ev, err := argAt[string](args, 0, true)
		if err != nil {
			return c.badArgs(ctx, name, err)
		}
		props, err := argAt[map[string]any](args, 1, false)
		if err != nil {
			return c.badArgs(ctx, name, err)
		}
		c.Track(ev, props)
	case "page":
		pname, err := argAt[string](args, 0, false)
		if err != nil {
			return c.badArgs(ctx, name, err)
		}
		props, err := argAt[map[string]any](args, 1, false)
		if err != nil {
			return c.badArgs(ctx, name, err)
		}
		c.Page(pname, props)
	case "setConsent":
		u, err := argAt[ConsentUpdate](args, 0, true)
		if err != nil {
			return c.badArgs(ctx, name, err)
		}
		c.SetConsent(u)
	case "reset":
		c.Reset(ctx)
	case "debug":
		on, err := argAt[bool](args, 0, true)
		if err != nil {
			return c.badArgs(ctx, name, err)
		}
		c.Debug(on)
	default:
		c.log.Warn(ctx, "unknown_command", "unknown command ignored", slog.String("command", name))
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	return nil
}

func (c *Client) badArgs(ctx context.Context, name string, err error) error {
	c.log.Warn(ctx, "bad_command", "command ignored",
		slog.String("command", name), slog.String("error_code", "BAD_ARGUMENTS"), slog.String("error", err.Error()))
	return fmt.Errorf("%s: %w", name, err)
}

func argAt[T any](args []any, i int, required bool) (T, error) {
	var zero T
	if i >= len(args) || args[i] == nil {
		if required {
			return zero, fmt.Errorf("%w: argument %d is required", ErrBadArguments, i)
		}
		return zero, nil
	}
	v, ok := args[i].(T)
	if !ok {
		return zero, fmt.Errorf("%w: argument %d is %T, want %T", ErrBadArguments, i, args[i], zero)
	}
	return v, nil
}
