// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Thermoquad/bambustat/pkg/bambu/transport"
	"github.com/Thermoquad/bambustat/pkg/printer"
)

// fakeTransport records everything a Printer does with its session
type fakeTransport struct {
	mu          sync.Mutex
	connectErr  error
	up          bool
	subscribed  []string
	published   []printer.Command
	incoming    [][]byte
	dropped     uint64
	publishOK   bool
	disconnects int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{publishOK: true}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.up = true
	return nil
}

func (f *fakeTransport) Subscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.up {
		return transport.ErrNotConnected
	}
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeTransport) Publish(topic string, payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.up || !f.publishOK {
		return false
	}
	f.published = append(f.published, printer.Command{Topic: topic, Payload: payload})
	return true
}

func (f *fakeTransport) Drain() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.incoming
	f.incoming = nil
	return out
}

func (f *fakeTransport) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.up
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.up = false
	f.disconnects++
}

func (f *fakeTransport) push(docs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range docs {
		f.incoming = append(f.incoming, []byte(d))
	}
}

func (f *fakeTransport) sent() []printer.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]printer.Command, len(f.published))
	copy(out, f.published)
	return out
}

// fakeFiles serves a fixed listing and file bodies
type fakeFiles struct {
	listing string
	bodies  map[string]string
	err     error
}

func (f *fakeFiles) List(ctx context.Context) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(f.listing)), nil
}

func (f *fakeFiles) Retrieve(ctx context.Context, name string, limit int64) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, ok := f.bodies[name]
	if !ok {
		return nil, fmt.Errorf("550 %s: no such file", name)
	}
	return io.NopCloser(io.LimitReader(strings.NewReader(body), limit)), nil
}

func newTestPrinter(t *testing.T, cfg Config) (*Printer, *fakeTransport, *fakeFiles) {
	t.Helper()
	if cfg.Serial == "" {
		cfg.Serial = "01S00A000000001"
	}
	log, _ := test.NewNullLogger()
	ft := newFakeTransport()
	ff := &fakeFiles{}
	p := New(cfg,
		WithLogger(log),
		WithTransport(ft),
		WithFileStore(ff),
		WithClock(func() time.Time { return t0 }),
	)
	return p, ft, ff
}

func TestPrinterConnect(t *testing.T) {
	p, ft, _ := newTestPrinter(t, Config{Name: "x1c"})

	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if len(ft.subscribed) != 1 || ft.subscribed[0] != "device/01S00A000000001/report" {
		t.Errorf("subscribed = %v, want report topic", ft.subscribed)
	}
	sent := ft.sent()
	if len(sent) != 1 {
		t.Fatalf("published %d commands, want 1 (pushall)", len(sent))
	}
	if command, _ := commandParts(t, sent[0]); command != CmdPushAll {
		t.Errorf("first command = %q, want pushall", command)
	}
	if sent[0].Topic != "device/01S00A000000001/request" {
		t.Errorf("topic = %q", sent[0].Topic)
	}
}

func TestPrinterConnectSerialMismatch(t *testing.T) {
	p, ft, _ := newTestPrinter(t, Config{})
	ft.connectErr = transport.ErrSerialMismatch

	err := p.Connect(context.Background())
	if got := ResultFromError(err); got != printer.ConnectSerialFail {
		t.Errorf("ResultFromError(Connect()) = %v, want %v", got, printer.ConnectSerialFail)
	}
	if len(ft.subscribed) != 0 {
		t.Errorf("subscribed = %v, want no subscription", ft.subscribed)
	}

	// Disconnect afterwards is a harmless no-op
	p.Disconnect()
	p.Disconnect()
	if p.Snapshot().State != printer.StateOffline {
		t.Errorf("State = %v, want OFFLINE", p.Snapshot().State)
	}
	if len(ft.sent()) != 0 {
		t.Errorf("published %d commands after failed connect", len(ft.sent()))
	}
}

func TestResultFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want printer.ConnectionResult
	}{
		{"ok", nil, printer.ConnectOK},
		{"serial", fmt.Errorf("wrapped: %w", transport.ErrSerialMismatch), printer.ConnectSerialFail},
		{"login", transport.ErrLoginRejected, printer.ConnectFail},
		{"timeout", transport.ErrTimeout, printer.ConnectFail},
		{"fingerprint", transport.ErrFingerprintMismatch, printer.ConnectFail},
		{"other", errors.New("boom"), printer.ConnectFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResultFromError(tt.err); got != tt.want {
				t.Errorf("ResultFromError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConnectionTestNoSubscription(t *testing.T) {
	log, _ := test.NewNullLogger()
	ft := newFakeTransport()
	if got := testSession(context.Background(), ft, log); got != printer.ConnectOK {
		t.Errorf("testSession() = %v, want ok", got)
	}
	if len(ft.subscribed) != 0 {
		t.Errorf("connection test subscribed to %v", ft.subscribed)
	}

	ft.connectErr = transport.ErrSerialMismatch
	if got := testSession(context.Background(), ft, log); got != printer.ConnectSerialFail {
		t.Errorf("testSession() = %v, want serial mismatch", got)
	}
}

func TestPrinterFetchNoData(t *testing.T) {
	p, _, _ := newTestPrinter(t, Config{})
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	events := 0
	p.Subscribe(func(printer.Snapshot) { events++ })

	before := p.Snapshot()
	if !p.Fetch() {
		t.Error("Fetch() = false on a live session with no data")
	}
	if after := p.Snapshot(); after != before {
		t.Errorf("Snapshot() changed without data: %+v", after)
	}
	if events != 0 {
		t.Errorf("observers notified %d times without data", events)
	}
}

func TestPrinterFetchMergesAndNotifies(t *testing.T) {
	p, ft, _ := newTestPrinter(t, Config{})
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	var got []printer.Snapshot
	cancel := p.Subscribe(func(s printer.Snapshot) { got = append(got, s) })
	defer cancel()

	ft.push(
		`{"print":{"gcode_state":"RUNNING","mc_percent":10,"bed_temper":60}}`,
		`{"print":`, // malformed, skipped
		`{"print":{"nozzle_temper":215}}`,
	)
	if !p.Fetch() {
		t.Fatal("Fetch() = false")
	}
	if len(got) != 1 {
		t.Fatalf("observers notified %d times, want 1", len(got))
	}
	snap := got[0]
	if snap.State != printer.StatePrinting || snap.BedTemp != 60 || snap.ExtruderTemp != 215 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap != p.Snapshot() {
		t.Error("observer snapshot differs from Snapshot()")
	}

	stats := p.Statistics().Snapshot()
	if stats.TotalDocuments != 3 || stats.ParseErrors != 1 {
		t.Errorf("statistics = %d total / %d parse errors, want 3/1", stats.TotalDocuments, stats.ParseErrors)
	}
}

func TestPrinterFetchDeadSession(t *testing.T) {
	p, ft, _ := newTestPrinter(t, Config{})
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ft.push(`{"print":{"gcode_state":"IDLE"}}`)
	p.Fetch()

	ft.Disconnect()
	for i := 0; i < 3; i++ {
		if p.Fetch() {
			t.Fatalf("Fetch() = true on a dead session (call %d)", i)
		}
	}
	if p.Snapshot().State != printer.StateOffline {
		t.Errorf("State = %v, want OFFLINE", p.Snapshot().State)
	}
	if min := p.FetchMin(); min.Success || min.State != printer.StateOffline {
		t.Errorf("FetchMin() = %+v", min)
	}
}

func TestPrinterUnsupportedFeatureSendsNothing(t *testing.T) {
	p, ft, _ := newTestPrinter(t, Config{
		Dispatch: DispatchConfig{Features: DefaultFeatures &^ printer.FeatureExtrude},
	})
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	before := len(ft.sent())

	if p.ExecuteFeature(printer.FeatureExtrude) {
		t.Error("ExecuteFeature(Extrude) = true, want false")
	}
	if n := len(ft.sent()); n != before {
		t.Errorf("published %d commands, want none", n-before)
	}
	if p.SupportedFeatures().Has(printer.FeatureExtrude) {
		t.Error("SupportedFeatures() advertises Extrude")
	}
}

func TestPrinterFaultFlow(t *testing.T) {
	p, ft, _ := newTestPrinter(t, Config{})
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ft.push(`{"print":{"gcode_state":"RUNNING","print_error":7}}`)
	p.Fetch()
	if st := p.Faults(); !st.Active() || st.LastError != 7 {
		t.Fatalf("Faults() = %+v, want active fault 7", st)
	}
	if p.Snapshot().State != printer.StateError {
		t.Errorf("State = %v, want ERROR", p.Snapshot().State)
	}

	if !p.ExecuteFeature(printer.FeatureIgnoreError) {
		t.Fatal("ExecuteFeature(IgnoreError) = false")
	}
	if st := p.Faults(); st.Active() || st.IgnoreError != 7 {
		t.Errorf("Faults() after ignore = %+v", st)
	}
	if p.Snapshot().IgnoreError != 7 {
		t.Errorf("Snapshot().IgnoreError = %d, want 7", p.Snapshot().IgnoreError)
	}

	ft.push(`{"print":{"print_error":9}}`)
	p.Fetch()
	snap := p.Snapshot()
	if snap.IgnoreError != 0 || snap.LastError != 9 {
		t.Errorf("after new fault: LastError = %d IgnoreError = %d, want 9/0", snap.LastError, snap.IgnoreError)
	}

	ft.push(`{"print":{"print_error":0}}`)
	p.Fetch()
	if st := p.Faults(); st.LastError != 0 || st.IgnoreError != 0 {
		t.Errorf("Faults() after recovery = %+v", st)
	}
}

func TestPrinterDismissalSurvivesConcurrentFetch(t *testing.T) {
	p, ft, _ := newTestPrinter(t, Config{})
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ft.push(`{"print":{"gcode_state":"RUNNING","print_error":7}}`)
	p.Fetch()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			ft.push(`{"print":{"print_error":7,"mc_percent":10}}`)
			p.Fetch()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			p.ExecuteFeature(printer.FeatureIgnoreError)
		}
	}()
	wg.Wait()

	if st := p.Faults(); st.IgnoreError != 7 {
		t.Fatalf("Faults().IgnoreError = %d, want 7", st.IgnoreError)
	}
	if got := p.Snapshot().IgnoreError; got != 7 {
		t.Errorf("Snapshot().IgnoreError = %d, want 7", got)
	}
}

func TestPrinterFetchDropsNonFiniteTelemetry(t *testing.T) {
	p, ft, _ := newTestPrinter(t, Config{})
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ft.push(
		`{"print":{"gcode_state":"RUNNING","mc_percent":40,"nozzle_temper":210}}`,
		`{"print":{"mc_percent":"NaN"}}`,
		`{"print":{"nozzle_temper":"Inf"}}`,
		`{"print":{"gcode_state":"RUNNING","print_error":4294967296}}`,
	)
	p.Fetch()
	ft.push(`{"print":{"mc_percent":10}}`)
	p.Fetch()

	snap := p.Snapshot()
	if snap.PrintProgress != 0.4 {
		t.Errorf("PrintProgress = %v, want 0.4", snap.PrintProgress)
	}
	if snap.ExtruderTemp != 210 {
		t.Errorf("ExtruderTemp = %v, want 210", snap.ExtruderTemp)
	}
	if snap.State != printer.StatePrinting || snap.LastError != 0 {
		t.Errorf("State = %v LastError = %d, want PRINTING/0", snap.State, snap.LastError)
	}
}

func TestPrinterRetryReissuesLastCommand(t *testing.T) {
	p, ft, _ := newTestPrinter(t, Config{})
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !p.StartFile("benchy.3mf") {
		t.Fatal("StartFile() = false")
	}
	if !p.ExecuteFeature(printer.FeatureRetryError) {
		t.Fatal("ExecuteFeature(RetryError) = false")
	}
	sent := ft.sent()
	last := sent[len(sent)-1]
	if command, _ := commandParts(t, last); command != CmdProjectFile {
		t.Errorf("retry sent %q, want project_file", command)
	}
}

func TestPrinterCommandsWhileOffline(t *testing.T) {
	p, _, _ := newTestPrinter(t, Config{})
	if p.SendGCode("G28", true) {
		t.Error("SendGCode() = true while disconnected")
	}
	if p.ExecuteFeature(printer.FeaturePause) {
		t.Error("ExecuteFeature(Pause) = true while disconnected")
	}
}

func TestPrinterPowerDevices(t *testing.T) {
	p, ft, _ := newTestPrinter(t, Config{})
	if err := p.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if len(p.PowerDevices()) != 0 {
		t.Errorf("PowerDevices() = %v before telemetry", p.PowerDevices())
	}
	if p.SetPowerDeviceState(PowerChamberLight, true) {
		t.Error("SetPowerDeviceState() = true for an unreported light")
	}

	ft.push(`{"print":{"lights_report":[{"node":"chamber_light","mode":"off"}]}}`)
	p.Fetch()
	if !p.SetPowerDeviceState(PowerChamberLight, true) {
		t.Error("SetPowerDeviceState() = false for a reported light")
	}
	if min := p.FetchMin(); min.PowerDevices != 1 {
		t.Errorf("FetchMin().PowerDevices = %d, want 1", min.PowerDevices)
	}
}

func TestPrinterFilesBound(t *testing.T) {
	p, _, ff := newTestPrinter(t, Config{MaxFiles: 10})
	var lines []string
	for i := 0; i < 50; i++ {
		lines = append(lines, fmt.Sprintf("-rw-rw-rw- 1 root root 100 Mar 02 11:40 part%02d.gcode", i))
	}
	ff.listing = strings.Join(lines, "\n")

	files, err := p.Files(context.Background())
	if err != nil {
		t.Fatalf("Files() error = %v", err)
	}
	if len(files) != 10 {
		t.Errorf("len(Files()) = %d, want 10", len(files))
	}
}

func TestPrinterFilesError(t *testing.T) {
	p, _, ff := newTestPrinter(t, Config{})
	ff.err = transport.ErrTimeout
	if _, err := p.Files(context.Background()); !errors.Is(err, transport.ErrTimeout) {
		t.Errorf("Files() error = %v, want ErrTimeout", err)
	}
}

func TestPrinterThumbnail(t *testing.T) {
	p, _, ff := newTestPrinter(t, Config{})
	ff.bodies = map[string]string{
		"plain.gcode": "G28\n",
	}
	if _, err := p.Thumbnail(context.Background(), "plain.gcode"); !errors.Is(err, ErrThumbnailNotFound) {
		t.Errorf("Thumbnail() error = %v, want ErrThumbnailNotFound", err)
	}
	if _, err := p.Thumbnail(context.Background(), "model.stl"); !errors.Is(err, ErrThumbnailNotFound) {
		t.Errorf("Thumbnail(stl) error = %v, want ErrThumbnailNotFound", err)
	}
}

func TestPrinterMetadata(t *testing.T) {
	p, _, _ := newTestPrinter(t, Config{Name: "garage"})
	if p.Name() != "garage" {
		t.Errorf("Name() = %q", p.Name())
	}
	if !p.NoConfirmPrintFile() {
		t.Error("NoConfirmPrintFile() = false")
	}
	if got := p.ErrorScreenFeatures(); got != ErrorScreenFeatures {
		t.Errorf("ErrorScreenFeatures() = %v", got)
	}
	if got := p.SupportedTemperatureDevices(); got != printer.TemperatureBed|printer.TemperatureNozzle1 {
		t.Errorf("SupportedTemperatureDevices() = %v", got)
	}
	if len(p.Macros()) != 4 {
		t.Errorf("len(Macros()) = %d, want the 4 speed profiles", len(p.Macros()))
	}
}
