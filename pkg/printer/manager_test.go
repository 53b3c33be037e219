// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package printer

import (
	"context"
	"errors"
	"testing"
)

// stubPrinter implements Printer with no behaviour beyond lifecycle tracking
type stubPrinter struct {
	name         string
	connectErr   error
	connected    bool
	disconnected int
}

func (s *stubPrinter) Name() string { return s.name }
func (s *stubPrinter) Connect(ctx context.Context) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}
func (s *stubPrinter) Disconnect()                       { s.connected = false; s.disconnected++ }
func (s *stubPrinter) Connected() bool                   { return s.connected }
func (s *stubPrinter) Fetch() bool                       { return s.connected }
func (s *stubPrinter) FetchMin() Minimal                 { return Minimal{Success: s.connected} }
func (s *stubPrinter) Snapshot() Snapshot                { return NewSnapshot() }
func (s *stubPrinter) Faults() FaultStatus               { return FaultStatus{} }
func (s *stubPrinter) Subscribe(fn func(Snapshot)) func() { return func() {} }
func (s *stubPrinter) SupportedFeatures() Feature        { return 0 }
func (s *stubPrinter) ErrorScreenFeatures() Feature      { return 0 }
func (s *stubPrinter) SupportedTemperatureDevices() TemperatureDevice {
	return 0
}
func (s *stubPrinter) NoConfirmPrintFile() bool                           { return false }
func (s *stubPrinter) ExecuteFeature(f Feature) bool                      { return false }
func (s *stubPrinter) MovePrinter(axis string, amount float64, r bool) bool { return false }
func (s *stubPrinter) SetTargetTemperature(d TemperatureDevice, t uint) bool {
	return false
}
func (s *stubPrinter) SendGCode(gcode string, wait bool) bool  { return false }
func (s *stubPrinter) Macros() []Macro                         { return nil }
func (s *stubPrinter) ExecuteMacro(name string) bool           { return false }
func (s *stubPrinter) PowerDevices() []PowerDevice             { return nil }
func (s *stubPrinter) SetPowerDeviceState(n string, on bool) bool { return false }
func (s *stubPrinter) Files(ctx context.Context) ([]File, error) {
	return nil, ErrUnsupported
}
func (s *stubPrinter) StartFile(name string) bool { return false }
func (s *stubPrinter) Thumbnail(ctx context.Context, name string) (Thumbnail, error) {
	return Thumbnail{}, ErrUnsupported
}

func TestManagerSwitch(t *testing.T) {
	var built []*stubPrinter
	factory := func(name string, err error) Factory {
		return func() (Printer, error) {
			p := &stubPrinter{name: name, connectErr: err}
			built = append(built, p)
			return p, nil
		}
	}
	m := NewManager([]Entry{
		{Name: "a", New: factory("a", nil)},
		{Name: "b", New: factory("b", errors.New("unreachable"))},
	})

	if _, _, err := m.Active(); !errors.Is(err, ErrNoPrinter) {
		t.Errorf("Active() error = %v, want ErrNoPrinter", err)
	}

	p, err := m.Switch(context.Background(), 0)
	if err != nil {
		t.Fatalf("Switch(0) error = %v", err)
	}
	if p.Name() != "a" || !p.Connected() {
		t.Errorf("Switch(0) = %s connected=%v", p.Name(), p.Connected())
	}

	p, err = m.Switch(context.Background(), 1)
	if err == nil {
		t.Error("Switch(1) error = nil, want connect error")
	}
	if p == nil || p.Name() != "b" {
		t.Fatalf("Switch(1) printer = %v, want b", p)
	}
	if built[0].disconnected != 1 {
		t.Errorf("old printer disconnected %d times, want 1", built[0].disconnected)
	}
	if _, idx, err := m.Active(); err != nil || idx != 1 {
		t.Errorf("Active() = %d, %v, want 1", idx, err)
	}

	// Switching back builds a fresh instance
	if _, err := m.Switch(context.Background(), 0); err != nil {
		t.Fatalf("Switch(0) error = %v", err)
	}
	if len(built) != 3 {
		t.Errorf("built %d printers, want 3", len(built))
	}

	if _, err := m.Switch(context.Background(), 5); err == nil {
		t.Error("Switch(5) error = nil, want out of range")
	}

	m.Close()
	if built[2].disconnected != 1 {
		t.Error("Close() did not disconnect the active printer")
	}
	if _, _, err := m.Active(); !errors.Is(err, ErrNoPrinter) {
		t.Errorf("Active() after Close() error = %v", err)
	}
}

func TestManagerFactoryError(t *testing.T) {
	m := NewManager([]Entry{{Name: "bad", New: func() (Printer, error) { return nil, errors.New("bad config") }}})
	if _, err := m.Switch(context.Background(), 0); err == nil {
		t.Error("Switch() error = nil, want factory error")
	}
	if len(m.Entries()) != 1 {
		t.Errorf("Entries() = %v", m.Entries())
	}
}
