// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bambu

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
)

// SSDP ports printers announce themselves on
var DiscoveryPorts = []int{2021, 1990}

const ssdpSearchTarget = "urn:bambulab-com:device:3dprinter:1"

// Announcement is one printer found on the LAN
type Announcement struct {
	Host    string
	Serial  string
	Model   string
	Name    string
	Connect string // "lan" or "cloud"
	Bind    string
	Signal  string
}

func (a Announcement) String() string {
	return fmt.Sprintf("%s@%s - %s (%s)", a.Serial, a.Host, a.Name, a.Model)
}

// ParseAnnouncement parses an SSDP NOTIFY or search response
func ParseAnnouncement(msg []byte) (Announcement, error) {
	r := textproto.NewReader(bufio.NewReader(bytes.NewReader(msg)))
	start, err := r.ReadLine()
	if err != nil {
		return Announcement{}, fmt.Errorf("empty announcement: %w", err)
	}
	if !strings.HasPrefix(start, "NOTIFY ") && !strings.HasPrefix(start, "HTTP/") {
		return Announcement{}, fmt.Errorf("not an announcement: %q", start)
	}

	header, err := r.ReadMIMEHeader()
	if err != nil && len(header) == 0 {
		return Announcement{}, fmt.Errorf("malformed announcement: %w", err)
	}
	if nt := header.Get("NT"); nt != "" && nt != ssdpSearchTarget {
		return Announcement{}, fmt.Errorf("not a printer: %s", nt)
	}

	a := Announcement{
		Host:    strings.TrimSpace(header.Get("Location")),
		Serial:  strings.TrimSpace(header.Get("USN")),
		Model:   header.Get("DevModel.bambu.com"),
		Name:    header.Get("DevName.bambu.com"),
		Connect: header.Get("DevConnect.bambu.com"),
		Bind:    header.Get("DevBind.bambu.com"),
		Signal:  header.Get("DevSignal.bambu.com"),
	}
	if a.Host == "" || a.Serial == "" {
		return Announcement{}, errors.New("announcement without location or serial")
	}
	return a, nil
}

// Discover listens for printer announcements until ctx is done and returns
// each printer once, in the order first seen. Ports that cannot be bound
// are skipped; an error is returned only if none could be.
func Discover(ctx context.Context) ([]Announcement, error) {
	var (
		mu    sync.Mutex
		found []Announcement
		seen  = map[string]bool{}
		wg    sync.WaitGroup
		conns []*net.UDPConn
	)

	for _, port := range DiscoveryPorts {
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
		if err != nil {
			continue
		}
		conns = append(conns, conn)
	}
	if len(conns) == 0 {
		return nil, fmt.Errorf("cannot listen on discovery ports %v", DiscoveryPorts)
	}

	for _, conn := range conns {
		wg.Add(1)
		go func(conn *net.UDPConn) {
			defer wg.Done()
			buf := make([]byte, 2048)
			for {
				n, _, err := conn.ReadFromUDP(buf)
				if err != nil {
					return
				}
				a, err := ParseAnnouncement(buf[:n])
				if err != nil {
					continue
				}
				mu.Lock()
				if !seen[a.Serial] {
					seen[a.Serial] = true
					found = append(found, a)
				}
				mu.Unlock()
			}
		}(conn)
	}

	search := searchRequest()
	for _, port := range DiscoveryPorts {
		addr := &net.UDPAddr{IP: net.IPv4bcast, Port: port}
		conns[0].WriteToUDP(search, addr)
	}

	<-ctx.Done()
	for _, conn := range conns {
		conn.Close()
	}
	wg.Wait()
	return found, nil
}

func searchRequest() []byte {
	var b strings.Builder
	b.WriteString("M-SEARCH * HTTP/1.1\r\n")
	b.WriteString("HOST: 239.255.255.250:1990\r\n")
	b.WriteString("MAN: \"ssdp:discover\"\r\n")
	b.WriteString("MX: 3\r\n")
	b.WriteString("ST: " + ssdpSearchTarget + "\r\n\r\n")
	return []byte(b.String())
}
