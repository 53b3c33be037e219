// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/Thermoquad/bambustat/pkg/printer"
)

// Encoder encodes requests for one printer.
// Each encoded document carries a sequence_id taken from a per-encoder
// counter; everything else is a pure function of the request.
type Encoder struct {
	serial string
	topic  string
	seq    atomic.Uint64
}

// NewEncoder creates an encoder publishing to the request topic of serial.
func NewEncoder(serial string) *Encoder {
	return &Encoder{
		serial: serial,
		topic:  RequestTopic(serial),
	}
}

// ReportTopic returns the telemetry topic of a printer
func ReportTopic(serial string) string {
	return fmt.Sprintf(reportTopicFormat, serial)
}

// RequestTopic returns the command topic of a printer
func RequestTopic(serial string) string {
	return fmt.Sprintf(requestTopicFormat, serial)
}

// Encode converts a request to wire format. One request always yields one
// command.
func (e *Encoder) Encode(r Request) (printer.Command, error) {
	seq := e.seq.Add(1) - 1
	payload, err := EncodeRequest(r, seq)
	if err != nil {
		return printer.Command{}, err
	}
	return printer.Command{
		Name:    r.Command(),
		Topic:   e.topic,
		Payload: payload,
	}, nil
}

// MustEncode is like Encode but panics on error. Builders in this package
// only produce encodable requests.
func (e *Encoder) MustEncode(r Request) printer.Command {
	cmd, err := e.Encode(r)
	if err != nil {
		panic(fmt.Sprintf("bambu: encode error: %v", err))
	}
	return cmd
}

// EncodeRequest renders {"<envelope>": {..fields.., "sequence_id": "<seq>"}}.
// Map keys are emitted in sorted order, so equal inputs give equal bytes.
func EncodeRequest(r Request, seq uint64) ([]byte, error) {
	if r.Envelope == "" {
		return nil, fmt.Errorf("request has no envelope")
	}
	if r.Command() == "" {
		return nil, fmt.Errorf("request has no command")
	}

	fields := make(map[string]interface{}, len(r.Fields)+1)
	for k, v := range r.Fields {
		fields[k] = v
	}
	fields["sequence_id"] = strconv.FormatUint(seq, 10)

	data, err := json.Marshal(map[string]interface{}{r.Envelope: fields})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", r.Command(), err)
	}
	return data, nil
}
