package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"correlator/internal/ctxstore"
	"correlator/internal/rules"
)

// Silence suppresses incidents for configured items. An entry "host"
// silences the host and all of its services; "host/service" silences
// one service. Every silenced alert is reported on the bus.
type Silence struct {
	base
	context  *ctxstore.Store
	hosts    map[string]bool
	services map[string]bool
	logger   *slog.Logger
}

// SilencedNotice is the bus payload sent for a silenced alert.
type SilencedNotice struct {
	Type      string    `json:"type"`
	AlertID   string    `json:"alert_id"`
	Host      string    `json:"host"`
	Service   string    `json:"service,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newSilence(b base, store *ctxstore.Store, silenced []string, logger *slog.Logger) *Silence {
	s := &Silence{
		base:     b,
		context:  store,
		hosts:    make(map[string]bool),
		services: make(map[string]bool),
		logger:   logger,
	}
	for _, entry := range silenced {
		if _, _, found := strings.Cut(entry, "/"); found {
			s.services[entry] = true
		} else {
			s.hosts[entry] = true
		}
	}
	return s
}

func (r *Silence) silenced(host, service string) bool {
	if r.hosts[host] {
		return true
	}
	return service != "" && r.services[host+"/"+service]
}

// Process implements rules.Rule.
func (r *Silence) Process(ctx context.Context, link rules.Link, alertID string) error {
	c := r.context.For(alertID)

	host, err := c.Hostname(ctx)
	if err != nil {
		return err
	}
	service, err := c.Servicename(ctx)
	if err != nil {
		return err
	}
	if !r.silenced(host, service) {
		return nil
	}

	if err := c.SetNoAlert(ctx, true); err != nil {
		return err
	}
	r.logger.Info("alert silenced", "alertID", alertID, "host", host, "service", service)

	if link == nil {
		return nil
	}
	payload, err := json.Marshal(SilencedNotice{
		Type:      "silenced",
		AlertID:   alertID,
		Host:      host,
		Service:   service,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode silenced notice: %w", err)
	}
	return link.SendToBus(ctx, payload)
}
