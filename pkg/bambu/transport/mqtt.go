// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/sirupsen/logrus"
)

// Session is one MQTT-over-TLS session to a printer.
//
// Messages are delivered by the MQTT client on its own goroutine and
// buffered until Drain is called; when the buffer is full the oldest
// message is dropped. A Session never reconnects by itself: once the
// connection is lost, Connected reports false until Connect succeeds again.
type Session struct {
	cfg Config
	log logrus.FieldLogger

	mu      sync.Mutex
	client  mqtt.Client
	cancel  context.CancelFunc
	up      bool
	gen     uint64
	pending [][]byte
	dropped uint64
}

// NewSession creates a disconnected session
func NewSession(cfg Config) *Session {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &Session{
		cfg: cfg,
		log: cfg.logger().WithFields(logrus.Fields{"host": cfg.Host, "serial": cfg.Serial}),
	}
}

// Connect performs the TLS handshake, verifies the printer identity and
// logs in. It blocks until the broker answers, ctx is done, the configured
// connect timeout expires or Disconnect is called.
func (s *Session) Connect(ctx context.Context) error {
	id, err := newIdentityCheck(s.cfg.Serial, s.cfg.Fingerprint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	s.mu.Lock()
	if s.up {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	timeout := s.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	s.cancel = cancel
	s.gen++
	gen := s.gen
	client := mqtt.NewClient(s.clientOptions(id, timeout, gen))
	s.client = client
	s.pending = nil
	s.mu.Unlock()
	defer cancel()

	s.log.Debug("connecting")
	token := client.Connect()
	select {
	case <-token.Done():
	case <-attemptCtx.Done():
		s.abandon(gen)
		go func() {
			<-token.Done()
			client.Disconnect(0)
		}()
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: connecting to %s", ErrTimeout, s.cfg.Host)
		}
		return fmt.Errorf("%w: %v", ErrConnect, attemptCtx.Err())
	}

	if err := token.Error(); err != nil {
		s.abandon(gen)
		return s.connectError(id, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		// Disconnect raced with a successful handshake
		s.mu.Unlock()
		client.Disconnect(0)
		return fmt.Errorf("%w: disconnected while connecting", ErrConnect)
	}
	s.up = true
	s.mu.Unlock()

	s.log.Info("connected")
	return nil
}

func (s *Session) clientOptions(id *identityCheck, timeout time.Duration, gen uint64) *mqtt.ClientOptions {
	port := s.cfg.Port
	if port == 0 {
		port = 8883
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker("tls://" + net.JoinHostPort(s.cfg.Host, strconv.Itoa(port)))
	opts.SetUsername(s.cfg.Username)
	opts.SetPassword(s.cfg.AccessCode)
	opts.SetClientID(fmt.Sprintf("bambustat-%s-%d", s.cfg.Serial, time.Now().UnixNano()))
	opts.SetTLSConfig(id.tlsConfig())
	opts.SetConnectTimeout(timeout)
	opts.SetKeepAlive(defaultKeepAlive)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.mu.Lock()
		current := s.gen == gen
		if current {
			s.up = false
		}
		s.mu.Unlock()
		if current {
			s.log.WithError(err).Warn("connection lost")
		}
	})
	return opts
}

func (s *Session) connectError(id *identityCheck, err error) error {
	if idErr := id.failure(); idErr != nil {
		return idErr
	}
	if errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised) {
		return fmt.Errorf("%w: %v", ErrLoginRejected, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnect, err)
}

// abandon drops the client of attempt gen if it is still current
func (s *Session) abandon(gen uint64) {
	s.mu.Lock()
	if s.gen == gen {
		s.client = nil
		s.up = false
	}
	s.mu.Unlock()
}

// Subscribe registers the telemetry topic. Incoming payloads are copied
// into the receive buffer.
func (s *Session) Subscribe(topic string) error {
	s.mu.Lock()
	client, up := s.client, s.up
	s.mu.Unlock()
	if !up {
		return ErrNotConnected
	}

	token := client.Subscribe(topic, 0, s.onMessage)
	timeout := s.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: subscribing to %s", ErrTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	s.log.WithField("topic", topic).Debug("subscribed")
	return nil
}

func (s *Session) onMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.up {
		return
	}
	if len(s.pending) >= s.cfg.BufferSize {
		s.pending = s.pending[1:]
		s.dropped++
	}
	s.pending = append(s.pending, payload)
}

// Drain returns the payloads received since the last call, oldest first.
// It never blocks and returns nil when nothing arrived.
func (s *Session) Drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// Dropped returns the number of payloads discarded because the buffer was
// full.
func (s *Session) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Publish sends payload without waiting for the broker. It returns false
// when the session is down or the client rejected the message outright.
func (s *Session) Publish(topic string, payload []byte) bool {
	s.mu.Lock()
	client, up := s.client, s.up
	s.mu.Unlock()
	if !up {
		return false
	}

	token := client.Publish(topic, 0, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			s.log.WithError(err).WithField("topic", topic).Warn("publish failed")
			return false
		}
	default:
	}
	return true
}

// Connected reports whether the session is logged in and the connection
// has not been lost.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.up && s.client != nil && s.client.IsConnectionOpen()
}

// Disconnect tears the session down. It is safe to call at any time,
// including while Connect is in progress, and more than once.
func (s *Session) Disconnect() {
	s.mu.Lock()
	client, wasUp := s.client, s.up
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.client = nil
	s.up = false
	s.pending = nil
	s.mu.Unlock()

	if client != nil && wasUp {
		client.Disconnect(250)
		s.log.Info("disconnected")
	}
}
