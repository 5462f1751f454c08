// Package orchestrator wires C1-C5 together: N upstream clients feeding
// one sequence filter feeding one broadcast server, plus the control
// surface and system-stat sampler, all under one cancelable context.
package orchestrator

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/HanshengGUO/okx-websocket-repeater/internal/broadcast"
	"github.com/HanshengGUO/okx-websocket-repeater/internal/config"
	"github.com/HanshengGUO/okx-websocket-repeater/internal/control"
	"github.com/HanshengGUO/okx-websocket-repeater/internal/filter"
	"github.com/HanshengGUO/okx-websocket-repeater/internal/metrics"
	"github.com/HanshengGUO/okx-websocket-repeater/internal/sysstats"
	"github.com/HanshengGUO/okx-websocket-repeater/internal/upstream"
)

// Orchestrator owns every long-lived goroutine in the process.
type Orchestrator struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Registry

	clients   []*upstream.Client
	filter    *filter.Filter
	broadcast *broadcast.Server
	control   *control.Server
}

// New wires all components from cfg but starts nothing.
func New(cfg *config.Config, logger zerolog.Logger, reg *metrics.Registry) (*Orchestrator, error) {
	subMsg, err := cfg.SubMessage()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:     cfg,
		logger:  logger,
		metrics: reg,
	}

	o.broadcast = broadcast.New(cfg.Addr(), cfg.SessionQueueDepth, logger, reg)
	o.filter = filter.New(o.broadcast.Broadcast, logger, reg)

	for i, url := range cfg.OkxConnections {
		ep := upstream.Endpoint{URL: url, SubMsg: subMsg, ID: i}
		c := upstream.New(ep, o.filter.Process, logger, reg)
		o.clients = append(o.clients, c)
	}

	o.control = control.New(cfg.ControlAddr, o.status, reg)

	return o, nil
}

func (o *Orchestrator) status() control.Status {
	connected := 0
	for _, c := range o.clients {
		if c.Connected() {
			connected++
		}
	}
	return control.Status{
		Upstreams:       connected,
		SessionsActive:  o.broadcast.SessionCount(),
		WatermarkIsZero: o.filter.Watermark() == 0,
	}
}

// Run starts every component and blocks until ctx is canceled, then drains
// shutdown and returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.broadcast.Start(); err != nil {
		return err
	}

	controlErrs := o.control.Start()

	var wg sync.WaitGroup
	for _, c := range o.clients {
		wg.Add(1)
		go func(c *upstream.Client) {
			defer wg.Done()
			c.Run(ctx)
		}(c)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sysstats.Run(ctx, o.logger, o.metrics)
	}()

	select {
	case <-ctx.Done():
	case err := <-controlErrs:
		if err != nil {
			o.logger.Error().Err(err).Msg("orchestrator: control surface failed")
		}
	}

	o.control.Shutdown()
	o.broadcast.Shutdown()
	wg.Wait()

	return nil
}
