/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/Seednode/npat/games"
)

const (
	natsMaxReconnects = -1
	natsReconnectWait = 2 * time.Second
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// busMirror forwards every room broadcast to the wrapped Broadcaster and
// also publishes it to <subject>.<room>.<event>. Direct replies are not
// mirrored.
type busMirror struct {
	next    games.Broadcaster
	pub     publisher
	subject string
}

func connectBus(cfg *Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("npat"),
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Error().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return nc, nil
}

var subjectToken = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "\t", "_")

func (m *busMirror) subjectFor(roomID, event string) string {
	return m.subject + "." + subjectToken.Replace(roomID) + "." + event
}

func (m *busMirror) Broadcast(roomID, event string, payload any) {
	m.next.Broadcast(roomID, event, payload)

	b, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Str("event", event).Msg("failed to encode mirrored event")
		return
	}

	if err := m.pub.Publish(m.subjectFor(roomID, event), b); err != nil {
		log.Warn().Err(err).Str("room", roomID).Str("event", event).Msg("failed to mirror event")
	}
}

func (m *busMirror) Send(connID, event string, payload any) {
	m.next.Send(connID, event, payload)
}
