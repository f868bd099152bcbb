package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"fleetops/internal/broadcast"
	"fleetops/internal/gateway"
	"fleetops/internal/logging"
	"fleetops/models"
)

const (
	// SubjectTelemetry is the default telemetry subject; the last token is the mission id.
	SubjectTelemetry = "fleetops.telemetry.*"
	// DefaultEventPrefix prefixes relayed events: <prefix>.<kind>.<id>.
	DefaultEventPrefix = "fleetops.events"

	ingestTimeout = 5 * time.Second
	drainTimeout  = 10 * time.Second
)

// TelemetryIngester applies telemetry samples; *gateway.Gateway satisfies it.
type TelemetryIngester interface {
	IngestTelemetry(ctx context.Context, s models.TelemetrySample) (*models.Mission, error)
}

// Client represents a NATS client
type Client struct {
	conn       *nats.Conn
	log        zerolog.Logger
	closed     chan struct{}
	dispatcher *dispatcher
}

// New creates a new NATS client
func New(url string, log zerolog.Logger) (*Client, error) {
	log = log.With().Str("component", "nats").Logger()
	closed := make(chan struct{})
	nc, err := nats.Connect(url,
		nats.Name("fleetops"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Client{conn: nc, log: log, closed: closed}, nil
}

// SubscribeTelemetry feeds samples published on subject into ing. Subscribers sharing
// queue split the load. Each mission is ingested by its own worker so a slow mission
// does not hold up the rest of the fleet. Requests (messages with a reply subject) are
// answered with a gateway.CommandResult.
func (c *Client) SubscribeTelemetry(subject, queue string, ing TelemetryIngester) (*nats.Subscription, error) {
	if subject == "" {
		subject = SubjectTelemetry
	}
	d := newDispatcher(ing, DefaultMissionQueue, c.log)
	sub, err := c.conn.QueueSubscribe(subject, queue, d.handle)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	c.dispatcher = d
	c.log.Info().Str("subject", subject).Str("queue", queue).Msg("telemetry subscription started")
	return sub, nil
}

// decodeTelemetry parses a telemetry message. The mission id falls back to the last
// subject token. Malformed messages are answered and reported as not ok.
func decodeTelemetry(msg *nats.Msg, log zerolog.Logger) (models.TelemetrySample, bool) {
	var s models.TelemetrySample
	if err := json.Unmarshal(msg.Data, &s); err != nil {
		log.Warn().Err(err).Str("subject", msg.Subject).Msg("malformed telemetry")
		reply(msg, gateway.CommandResult{Error: &gateway.CommandError{Code: gateway.CodeInvalidArgument, Message: err.Error()}}, log)
		return s, false
	}
	if s.MissionID == 0 {
		s.MissionID = missionIDFromSubject(msg.Subject)
	}
	return s, true
}

// ingestHandler applies one decoded sample and answers requests.
func ingestHandler(ing TelemetryIngester, log zerolog.Logger) func(*nats.Msg, models.TelemetrySample) {
	sampled := logging.Sampled(log)
	return func(msg *nats.Msg, s models.TelemetrySample) {
		ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
		defer cancel()
		m, err := ing.IngestTelemetry(ctx, s)
		if err != nil {
			sampled.Warn().Err(err).Int64("mission_id", s.MissionID).Str("code", gateway.ErrorCode(err)).Msg("telemetry rejected")
		} else {
			sampled.Debug().Int64("mission_id", m.ID).Int("progress", m.Progress).Msg("telemetry applied")
		}
		reply(msg, gateway.ResultOf(m, err), log)
	}
}

func reply(msg *nats.Msg, res gateway.CommandResult, log zerolog.Logger) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		log.Error().Err(err).Msg("marshal telemetry reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		log.Warn().Err(err).Msg("telemetry reply")
	}
}

// missionIDFromSubject reads the mission id from the last subject token, 0 if absent.
func missionIDFromSubject(subject string) int64 {
	i := strings.LastIndexByte(subject, '.')
	id, err := strconv.ParseInt(subject[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// EventSubject maps an event to <prefix>.<kind>.<id>, e.g. fleetops.events.missionProgress.12.
func EventSubject(prefix string, ev broadcast.Event) string {
	if prefix == "" {
		prefix = DefaultEventPrefix
	}
	id := ev.Topic
	if i := strings.IndexByte(id, ':'); i >= 0 {
		id = id[i+1:]
	}
	return prefix + "." + string(ev.Kind) + "." + id
}

// RelayEvents republishes broadcaster events on NATS until ctx is done. If the relay
// falls behind and is dropped by the broadcaster it resubscribes.
func (c *Client) RelayEvents(ctx context.Context, bus *broadcast.Broadcaster, prefix string) error {
	for {
		sub := bus.Subscribe()
		err := c.relay(ctx, sub, prefix)
		sub.Close()
		if err != nil {
			return err
		}
		c.log.Warn().Err(sub.Err()).Msg("event relay dropped, resubscribing")
	}
}

// relay returns nil when the subscription ends while ctx is still live.
func (c *Client) relay(ctx context.Context, sub *broadcast.Subscription, prefix string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				if sub.Err() == nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					return fmt.Errorf("broadcaster closed")
				}
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				c.log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("marshal event")
				continue
			}
			if err := c.conn.Publish(EventSubject(prefix, ev), data); err != nil {
				c.log.Warn().Err(err).Str("kind", string(ev.Kind)).Msg("relay event")
			}
		}
	}
}

// Conn exposes the underlying connection.
func (c *Client) Conn() *nats.Conn { return c.conn }

// Close drains subscriptions, waits for queued telemetry and closes the NATS connection
func (c *Client) Close() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
	select {
	case <-c.closed:
	case <-time.After(drainTimeout):
		c.log.Warn().Dur("timeout", drainTimeout).Msg("nats drain timed out")
		return
	}
	if c.dispatcher != nil {
		c.dispatcher.wait()
	}
}
