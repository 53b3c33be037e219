// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestDecodeFileListing(t *testing.T) {
	listing := strings.Join([]string{
		"drwxrwxrwx 2 root root 4096 Jan 01 00:00 cache",
		"-rw-rw-rw- 1 root root 2345678 Mar 02 11:40 benchy.gcode.3mf",
		"-rw-rw-rw- 1 root root 1024 Mar 02 11:41 notes.txt",
		"-rw-rw-rw- 1 root root 99 Dec 24 2023 my part v2.gcode",
		"garbage line",
		"-rw-rw-rw- 1 root root notanumber Mar 02 11:40 broken.gcode",
		"",
	}, "\r\n")

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	files, err := decodeFileListing(strings.NewReader(listing), 0, now)
	if err != nil {
		t.Fatalf("DecodeFileListing() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("len(files) = %d, want 2 (%v)", len(files), files)
	}

	if files[0].Name != "benchy.gcode.3mf" || files[0].Size != 2345678 {
		t.Errorf("files[0] = %+v", files[0])
	}
	wantTime := time.Date(2025, 3, 2, 11, 40, 0, 0, time.UTC)
	if !files[0].ModTime.Equal(wantTime) {
		t.Errorf("files[0].ModTime = %v, want %v", files[0].ModTime, wantTime)
	}

	if files[1].Name != "my part v2.gcode" {
		t.Errorf("files[1].Name = %q, want name with spaces", files[1].Name)
	}
	if files[1].ModTime.Year() != 2023 {
		t.Errorf("files[1].ModTime = %v, want 2023", files[1].ModTime)
	}
}

func TestListTimeFromLastYear(t *testing.T) {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	got := parseListTime("Dec", "30", "18:00", now)
	if got.Year() != 2024 {
		t.Errorf("parseListTime() year = %d, want 2024", got.Year())
	}
}

func TestDecodeFileListingBound(t *testing.T) {
	lines := make([]string, 50)
	for i := range lines {
		lines[i] = fmt.Sprintf("-rw-rw-rw- 1 root root %d Mar 02 11:40 part%02d.3mf", 1000+i, i)
	}

	tests := []struct {
		name string
		max  int
		want int
	}{
		{"bounded", 10, 10},
		{"bound above count", 80, 50},
		{"unbounded", 0, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files, err := DecodeFileListing(strings.NewReader(strings.Join(lines, "\n")), tt.max)
			if err != nil {
				t.Fatalf("DecodeFileListing() error = %v", err)
			}
			if len(files) != tt.want {
				t.Errorf("len(files) = %d, want %d", len(files), tt.want)
			}
		})
	}
}

func TestPrintableFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"a.3mf", true},
		{"a.gcode", true},
		{"A.GCODE", true},
		{"a.gcode.3mf", true},
		{"a.stl", false},
		{"gcode", false},
	}
	for _, tt := range tests {
		if got := PrintableFile(tt.name); got != tt.want {
			t.Errorf("PrintableFile(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
