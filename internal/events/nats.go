package events

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	natsjwt "github.com/nats-io/jwt/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"
)

// NATSOptions configures the NATS publisher connection.
type NATSOptions struct {
	URL string
	// NkeySeed is a user nkey seed (SU...). With UserJWT it signs the server nonce for
	// decentralized auth; alone it authenticates as a plain nkey user.
	NkeySeed string
	UserJWT  string
	Codec    Codec
	Name     string
}

type natsConn interface {
	PublishMsg(m *nats.Msg) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATSPublisher publishes events as core NATS messages on the event subject. The event id is
// set as Nats-Msg-Id so a JetStream stream bound to identity.> deduplicates redeliveries.
type NATSPublisher struct {
	nc    natsConn
	codec Codec
}

// ConnectNATS dials NATS with reconnect handling and returns a publisher.
func ConnectNATS(opts NATSOptions) (*NATSPublisher, error) {
	if opts.URL == "" {
		return nil, errors.New("events: NATS URL is empty")
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	name := opts.Name
	if name == "" {
		name = "identity"
	}
	natsOpts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.ReconnectJitter(500*time.Millisecond, 2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("events: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("events: NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Printf("events: NATS error: %v", err)
		}),
	}
	creds, err := credentialOptions(opts.NkeySeed, opts.UserJWT, time.Now())
	if err != nil {
		return nil, err
	}
	natsOpts = append(natsOpts, creds...)

	nc, err := nats.Connect(opts.URL, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("events: connect to NATS: %w", err)
	}
	log.Printf("events: connected to NATS at %s", nc.ConnectedUrl())
	return &NATSPublisher{nc: nc, codec: codec}, nil
}

// credentialOptions builds the auth options for an nkey seed with an optional user JWT.
// The JWT must name the seed's public key and must not be expired.
func credentialOptions(seed, userJWT string, now time.Time) ([]nats.Option, error) {
	if seed == "" {
		if userJWT != "" {
			return nil, errors.New("events: NATS_USER_JWT requires NATS_NKEY_SEED")
		}
		return nil, nil
	}
	kp, err := nkeys.FromSeed([]byte(seed))
	if err != nil {
		return nil, fmt.Errorf("events: invalid NATS nkey seed: %w", err)
	}
	pub, err := kp.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("events: nkey public key: %w", err)
	}
	if !nkeys.IsValidPublicUserKey(pub) {
		return nil, errors.New("events: NATS nkey seed is not a user key")
	}
	sign := func(nonce []byte) ([]byte, error) { return kp.Sign(nonce) }

	if userJWT == "" {
		return []nats.Option{nats.Nkey(pub, sign)}, nil
	}
	claims, err := natsjwt.DecodeUserClaims(userJWT)
	if err != nil {
		return nil, fmt.Errorf("events: invalid NATS user JWT: %w", err)
	}
	if claims.Subject != pub {
		return nil, errors.New("events: NATS user JWT does not match nkey seed")
	}
	if claims.Expires > 0 && now.Unix() >= claims.Expires {
		return nil, errors.New("events: NATS user JWT expired")
	}
	return []nats.Option{nats.UserJWT(
		func() (string, error) { return userJWT, nil },
		sign,
	)}, nil
}

// Publish encodes ev and publishes it, then flushes so the server has the message before returning.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := p.codec.Encode(ev)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", ev.Subject, err)
	}
	msg := nats.NewMsg(ev.Subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, ev.ID)
	msg.Header.Set("Content-Type", p.codec.ContentType())
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Subject, err)
	}
	return p.nc.FlushWithContext(ctx)
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
