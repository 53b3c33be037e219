// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"bytes"
	"testing"
)

func TestTopics(t *testing.T) {
	if got := ReportTopic("01S00A000000001"); got != "device/01S00A000000001/report" {
		t.Errorf("ReportTopic() = %q", got)
	}
	if got := RequestTopic("01S00A000000001"); got != "device/01S00A000000001/request" {
		t.Errorf("RequestTopic() = %q", got)
	}
}

func TestEncodeRequestDeterministic(t *testing.T) {
	r := NewLightRequest(LightChamber, true)
	a, err := EncodeRequest(r, 42)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	b, err := EncodeRequest(r, 42)
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("EncodeRequest() not deterministic:\n%s\n%s", a, b)
	}
}

func TestEncodeRequestDoesNotMutate(t *testing.T) {
	r := NewPauseRequest()
	if _, err := EncodeRequest(r, 1); err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	if _, ok := r.Fields["sequence_id"]; ok {
		t.Error("EncodeRequest() added sequence_id to the request fields")
	}
}

func TestEncodeRequestInvalid(t *testing.T) {
	tests := []struct {
		name    string
		request Request
	}{
		{"no envelope", Request{Fields: map[string]interface{}{"command": "pause"}}},
		{"no command", Request{Envelope: EnvelopePrint, Fields: map[string]interface{}{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeRequest(tt.request, 0); err == nil {
				t.Error("EncodeRequest() error = nil, want error")
			}
		})
	}
}

func TestEncoderSequence(t *testing.T) {
	enc := NewEncoder("SERIAL")
	for want := 0; want < 3; want++ {
		cmd, err := enc.Encode(NewStopRequest())
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		if cmd.Topic != "device/SERIAL/request" {
			t.Errorf("Topic = %q", cmd.Topic)
		}
		if cmd.Name != CmdStop {
			t.Errorf("Name = %q, want %q", cmd.Name, CmdStop)
		}
		_, fields := decodeEnvelope(t, cmd.Payload)
		if fields["sequence_id"] != []string{"0", "1", "2"}[want] {
			t.Errorf("sequence_id = %v, want %d", fields["sequence_id"], want)
		}
	}
}
