// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/bambustat/pkg/bambu/transport"
	"github.com/Thermoquad/bambustat/pkg/printer"
)

// Transport is the message session a Printer runs over. transport.Session
// implements it.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(topic string) error
	Publish(topic string, payload []byte) bool
	Drain() [][]byte
	Dropped() uint64
	Connected() bool
	Disconnect()
}

// FileStore gives access to the SD card. transport.FileClient implements
// it.
type FileStore interface {
	List(ctx context.Context) (io.ReadCloser, error)
	Retrieve(ctx context.Context, name string, limit int64) (io.ReadCloser, error)
}

// Config describes one Bambu printer
type Config struct {
	Name        string
	Host        string
	Port        int
	FTPSPort    int
	Serial      string
	AccessCode  string
	Fingerprint string

	ConnectTimeout time.Duration
	FileTimeout    time.Duration
	MaxFiles       int

	Dispatch DispatchConfig
}

// TransportConfig returns the session settings for this printer
func (c Config) TransportConfig(log logrus.FieldLogger) transport.Config {
	return transport.Config{
		Host:           c.Host,
		Port:           c.Port,
		FTPSPort:       c.FTPSPort,
		Username:       Username,
		AccessCode:     c.AccessCode,
		Serial:         c.Serial,
		Fingerprint:    c.Fingerprint,
		ConnectTimeout: c.ConnectTimeout,
		Logger:         log,
	}
}

// Option configures a Printer
type Option func(*Printer)

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Printer) { p.log = l }
}

// WithTransport replaces the MQTT session
func WithTransport(t Transport) Option {
	return func(p *Printer) { p.transport = t }
}

// WithFileStore replaces the FTPS client
func WithFileStore(fs FileStore) Option {
	return func(p *Printer) { p.files = fs }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(p *Printer) { p.now = now }
}

// Printer is the Bambu implementation of printer.Printer.
//
// Fetch and the command methods share one lock that guards the parser,
// the recovery tracker and the dispatcher. The snapshot sits behind its own
// RWMutex and is only ever replaced whole.
type Printer struct {
	cfg       Config
	log       logrus.FieldLogger
	transport Transport
	files     FileStore
	now       func() time.Time

	mu         sync.Mutex
	parser     *StateParser
	tracker    *RecoveryTracker
	dispatcher *Dispatcher
	stats      *Statistics
	dropped    uint64

	snapMu sync.RWMutex
	snap   printer.Snapshot

	events printer.Notifier
}

var _ printer.Printer = (*Printer)(nil)

// New creates an unconnected printer
func New(cfg Config, opts ...Option) *Printer {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.FileTimeout <= 0 {
		cfg.FileTimeout = DefaultFileTimeout
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}

	tracker := NewRecoveryTracker()
	p := &Printer{
		cfg:     cfg,
		log:     logrus.StandardLogger(),
		now:     time.Now,
		parser:  NewStateParser(),
		tracker: tracker,
		stats:   NewStatistics(),
		snap:    printer.NewSnapshot(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithFields(logrus.Fields{"printer": cfg.Name, "serial": cfg.Serial})
	p.dispatcher = NewDispatcher(cfg.Dispatch, NewEncoder(cfg.Serial), tracker)

	if p.transport == nil {
		p.transport = transport.NewSession(cfg.TransportConfig(p.log))
	}
	if p.files == nil {
		p.files = transport.NewFileClient(cfg.TransportConfig(p.log))
	}
	return p
}

// Name returns the configured printer name
func (p *Printer) Name() string { return p.cfg.Name }

// Serial returns the configured serial number
func (p *Printer) Serial() string { return p.cfg.Serial }

// Statistics returns the telemetry statistics of this printer
func (p *Printer) Statistics() *Statistics { return p.stats }

// Connect opens the session, subscribes to telemetry and requests a full
// status push.
func (p *Printer) Connect(ctx context.Context) error {
	if p.transport.Connected() {
		return nil
	}
	if err := p.transport.Connect(ctx); err != nil {
		p.log.WithError(err).Warn("connect failed")
		return err
	}
	if err := p.transport.Subscribe(ReportTopic(p.cfg.Serial)); err != nil {
		p.transport.Disconnect()
		p.log.WithError(err).Warn("subscribe failed")
		return err
	}

	p.mu.Lock()
	p.parser.Reset()
	pushall := p.dispatcher.PushAll()
	p.mu.Unlock()

	if !p.transport.Publish(pushall.Topic, pushall.Payload) {
		p.log.Warn("pushall request not sent")
	}
	return nil
}

// Disconnect closes the session and marks the printer Offline. It is safe
// to call at any time.
func (p *Printer) Disconnect() {
	p.transport.Disconnect()

	p.snapMu.Lock()
	changed := p.snap.State != printer.StateOffline
	p.snap.State = printer.StateOffline
	snap := p.snap
	p.snapMu.Unlock()

	if changed {
		p.events.Notify(snap)
	}
}

// Connected reports whether the session is up
func (p *Printer) Connected() bool {
	return p.transport.Connected()
}

// Fetch drains buffered telemetry into the snapshot. Malformed documents
// are counted and skipped. Observers are notified once when at least one
// document was merged. Fetch returns false only when the session is down;
// it never reconnects.
func (p *Printer) Fetch() bool {
	if !p.transport.Connected() {
		p.markOffline()
		return false
	}

	payloads := p.transport.Drain()

	p.mu.Lock()
	if dropped := p.transport.Dropped(); dropped > p.dropped {
		p.stats.AddDropped(dropped - p.dropped)
		p.dropped = dropped
	}
	if len(payloads) == 0 {
		p.mu.Unlock()
		return true
	}

	snap := p.Snapshot()
	merged := 0
	for _, payload := range payloads {
		t, err := DecodeTelemetry(payload)
		if err != nil {
			p.stats.Update(err, nil)
			p.log.WithError(err).Debug("dropping telemetry")
			continue
		}
		anomalies := ValidateTelemetry(t)
		p.stats.Update(nil, anomalies)
		for i := range anomalies {
			p.log.WithField("anomaly", anomalies[i].Message).Debug("implausible telemetry")
		}
		if t.Empty() {
			continue
		}

		snap = p.parser.Merge(snap, t, p.now())
		p.logTransition(p.tracker.Observe(snap.LastError))
		snap.IgnoreError = p.tracker.IgnoreError()
		merged++
	}
	if merged > 0 {
		// Stored while p.mu is held so a concurrent dismissal cannot be
		// overwritten with a stale IgnoreError.
		p.storeSnapshot(snap)
	}
	p.mu.Unlock()

	if merged > 0 {
		p.events.Notify(snap)
	}
	return true
}

func (p *Printer) logTransition(tr Transition) {
	if tr == TransitionNone {
		return
	}
	entry := p.log.WithFields(logrus.Fields{
		"transition": tr.String(),
		"code":       FormatErrorCode(p.tracker.LastError()),
	})
	if tr == TransitionRecovered {
		entry.Info("printer fault cleared")
		return
	}
	entry.Warn("printer fault")
}

func (p *Printer) markOffline() {
	p.snapMu.Lock()
	changed := p.snap.State != printer.StateOffline
	p.snap.State = printer.StateOffline
	snap := p.snap
	p.snapMu.Unlock()
	if changed {
		p.events.Notify(snap)
	}
}

func (p *Printer) storeSnapshot(snap printer.Snapshot) {
	p.snapMu.Lock()
	p.snap = snap
	p.snapMu.Unlock()
}

// FetchMin fetches and returns the cheap summary
func (p *Printer) FetchMin() printer.Minimal {
	ok := p.Fetch()
	snap := p.Snapshot()
	p.mu.Lock()
	devices := len(p.dispatcher.PowerDevices(snap.Capabilities))
	p.mu.Unlock()
	return printer.Minimal{
		Success:       ok,
		State:         snap.State,
		PrintProgress: snap.PrintProgress,
		PowerDevices:  devices,
	}
}

// Snapshot returns a copy of the current state
func (p *Printer) Snapshot() printer.Snapshot {
	p.snapMu.RLock()
	defer p.snapMu.RUnlock()
	return p.snap
}

// Faults returns the fault bookkeeping
func (p *Printer) Faults() printer.FaultStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracker.Status()
}

// Subscribe registers a state-changed observer
func (p *Printer) Subscribe(fn func(printer.Snapshot)) func() {
	return p.events.Subscribe(fn)
}

// SupportedFeatures returns the configured feature set
func (p *Printer) SupportedFeatures() printer.Feature {
	return p.dispatcher.Features()
}

// ErrorScreenFeatures returns the features offered while a fault is shown
func (p *Printer) ErrorScreenFeatures() printer.Feature {
	return ErrorScreenFeatures & p.dispatcher.Features()
}

// SupportedTemperatureDevices returns the heaters with settable targets
func (p *Printer) SupportedTemperatureDevices() printer.TemperatureDevice {
	return p.dispatcher.TemperatureDevices()
}

// NoConfirmPrintFile is true: Bambu printers start files without a
// confirmation step.
func (p *Printer) NoConfirmPrintFile() bool { return true }

// ExecuteFeature sends the command for f
func (p *Printer) ExecuteFeature(f printer.Feature) bool {
	p.mu.Lock()
	cmd, ok := p.dispatcher.Feature(f)
	p.mu.Unlock()
	if !ok {
		p.log.WithField("feature", f.String()).Debug("feature rejected")
		return false
	}

	if !p.send(cmd, f != printer.FeatureRetryError) {
		return false
	}
	if f == printer.FeatureIgnoreError {
		p.dismissFault()
	}
	return true
}

// dismissFault records the dismissal and copies it into the snapshot
func (p *Printer) dismissFault() {
	p.mu.Lock()
	p.tracker.Ignore()
	ignore := p.tracker.IgnoreError()
	p.snapMu.Lock()
	changed := p.snap.IgnoreError != ignore
	p.snap.IgnoreError = ignore
	snap := p.snap
	p.snapMu.Unlock()
	p.mu.Unlock()

	if changed {
		p.events.Notify(snap)
	}
}

// MovePrinter moves one axis
func (p *Printer) MovePrinter(axis string, amount float64, relative bool) bool {
	p.mu.Lock()
	cmd, ok := p.dispatcher.Move(axis, amount, relative)
	p.mu.Unlock()
	return ok && p.send(cmd, true)
}

// SetTargetTemperature sets a heater target
func (p *Printer) SetTargetTemperature(device printer.TemperatureDevice, temperature uint) bool {
	p.mu.Lock()
	cmd, ok := p.dispatcher.Temperature(device, temperature)
	p.mu.Unlock()
	return ok && p.send(cmd, true)
}

// SendGCode forwards raw G-code. Sends are fire-and-forget, so wait has
// no effect; the outcome shows up in later telemetry.
func (p *Printer) SendGCode(gcode string, wait bool) bool {
	p.mu.Lock()
	cmd, ok := p.dispatcher.GCode(gcode)
	p.mu.Unlock()
	return ok && p.send(cmd, true)
}

// Macros lists the available macros
func (p *Printer) Macros() []printer.Macro {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dispatcher.Macros()
}

// ExecuteMacro runs a macro by name
func (p *Printer) ExecuteMacro(name string) bool {
	p.mu.Lock()
	cmd, ok := p.dispatcher.Macro(name)
	p.mu.Unlock()
	return ok && p.send(cmd, true)
}

// PowerDevices lists the lights reported by the printer
func (p *Printer) PowerDevices() []printer.PowerDevice {
	caps := p.Snapshot().Capabilities
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dispatcher.PowerDevices(caps)
}

// SetPowerDeviceState switches a light
func (p *Printer) SetPowerDeviceState(name string, on bool) bool {
	caps := p.Snapshot().Capabilities
	p.mu.Lock()
	cmd, ok := p.dispatcher.PowerDevice(caps, name, on)
	p.mu.Unlock()
	return ok && p.send(cmd, true)
}

// Files lists printable files on the SD card, at most MaxFiles entries
func (p *Printer) Files(ctx context.Context) ([]printer.File, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FileTimeout)
	defer cancel()

	rc, err := p.files.List(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return DecodeFileListing(rc, p.cfg.MaxFiles)
}

// StartFile starts printing a file from the SD card
func (p *Printer) StartFile(name string) bool {
	p.mu.Lock()
	cmd, ok := p.dispatcher.StartFile(name)
	p.mu.Unlock()
	return ok && p.send(cmd, true)
}

// Thumbnail returns the 32x32 preview of a file
func (p *Printer) Thumbnail(ctx context.Context, name string) (printer.Thumbnail, error) {
	if !PrintableFile(name) {
		return printer.Thumbnail{}, ErrThumbnailNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FileTimeout)
	defer cancel()

	rc, err := p.files.Retrieve(ctx, name, maxArchiveSize+1)
	if err != nil {
		return printer.Thumbnail{}, err
	}
	defer rc.Close()
	return DecodeThumbnail(name, rc)
}

// send publishes cmd and, when remember is set, records it for RetryError
func (p *Printer) send(cmd printer.Command, remember bool) bool {
	if !p.transport.Publish(cmd.Topic, cmd.Payload) {
		p.log.WithField("command", cmd.Name).Warn("command not sent")
		return false
	}
	if remember && retryable(cmd) {
		p.mu.Lock()
		p.tracker.Remember(cmd)
		p.mu.Unlock()
	}
	p.log.WithField("command", cmd.Name).Debug("command sent")
	return true
}

// ResultFromError maps a Connect error to a connection test result
func ResultFromError(err error) printer.ConnectionResult {
	switch {
	case err == nil:
		return printer.ConnectOK
	case errors.Is(err, transport.ErrSerialMismatch):
		return printer.ConnectSerialFail
	}
	return printer.ConnectFail
}

// TestConnection performs handshake and login without subscribing to
// telemetry, then disconnects. It is safe to call repeatedly.
func TestConnection(ctx context.Context, cfg Config, log logrus.FieldLogger) printer.ConnectionResult {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	session := transport.NewSession(cfg.TransportConfig(log))
	defer session.Disconnect()
	return testSession(ctx, session, log)
}

func testSession(ctx context.Context, t Transport, log logrus.FieldLogger) printer.ConnectionResult {
	err := t.Connect(ctx)
	result := ResultFromError(err)
	if err != nil {
		log.WithError(err).WithField("result", result.String()).Info("connection test failed")
	}
	return result
}
