// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/sirupsen/logrus"
)

// FileClient opens short-lived implicit FTPS sessions to the printer's SD
// card. Every List or Retrieve call logs in on a fresh control connection
// that is released when the returned stream is closed.
//
// List runs on a minimal client of its own so the listing can be cut off
// mid-transfer; Retrieve uses jlaffaye/ftp.
type FileClient struct {
	cfg Config
	log logrus.FieldLogger
}

// NewFileClient creates a file client for cfg
func NewFileClient(cfg Config) *FileClient {
	return &FileClient{
		cfg: cfg,
		log: cfg.logger().WithFields(logrus.Fields{"host": cfg.Host, "serial": cfg.Serial, "component": "ftps"}),
	}
}

// ftpsConn is one logged-in control connection
type ftpsConn struct {
	text   *textproto.Conn
	raw    net.Conn
	id     *identityCheck
	tlsCfg *tls.Config
	host   string
	stop   func() bool
}

// List returns the raw LIST output of the card root. The caller must close
// the stream; it may do so before reaching EOF.
func (c *FileClient) List(ctx context.Context) (io.ReadCloser, error) {
	conn, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	data, err := conn.transfer(ctx, "LIST /")
	if err != nil {
		conn.close()
		return nil, c.wrap(ctx, err)
	}
	return &transferReader{Reader: data, data: data, conn: conn}, nil
}

// Retrieve streams the content of name, cut off after limit bytes when
// limit > 0. The caller must close the stream.
func (c *FileClient) Retrieve(ctx context.Context, name string, limit int64) (io.ReadCloser, error) {
	id, err := newIdentityCheck(c.cfg.Serial, c.cfg.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	// Data connections must resume the control session, so both sides
	// need the same session cache key.
	tlsCfg := id.tlsConfig()
	tlsCfg.ServerName = c.cfg.Host

	sc, err := ftp.Dial(c.addr(),
		ftp.DialWithContext(ctx),
		ftp.DialWithTLS(tlsCfg),
		ftp.DialWithDisabledEPSV(true),
	)
	if err != nil {
		if idErr := id.failure(); idErr != nil {
			return nil, idErr
		}
		return nil, c.wrap(ctx, err)
	}

	r := &retrieveReader{sc: sc}
	r.stop = context.AfterFunc(ctx, r.quit)

	if err := sc.Login(c.cfg.Username, c.cfg.AccessCode); err != nil {
		r.stop()
		r.quit()
		return nil, c.wrap(ctx, loginError(err))
	}
	resp, err := sc.Retr(path.Join("/", name))
	if err != nil {
		r.stop()
		r.quit()
		return nil, c.wrap(ctx, fmt.Errorf("RETR: %w", err))
	}
	c.log.WithField("file", name).Debug("ftps retrieve")

	r.resp = resp
	r.Reader = resp
	if limit > 0 {
		r.Reader = io.LimitReader(resp, limit)
	}
	return r, nil
}

func (c *FileClient) addr() string {
	port := c.cfg.FTPSPort
	if port == 0 {
		port = 990
	}
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(port))
}

// loginError marks a 530 reply as a rejected access code
func loginError(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code == ftp.StatusNotLoggedIn {
		return fmt.Errorf("%w: %d %s", ErrLoginRejected, tpErr.Code, tpErr.Msg)
	}
	return err
}

func (c *FileClient) open(ctx context.Context) (*ftpsConn, error) {
	id, err := newIdentityCheck(c.cfg.Serial, c.cfg.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	tlsCfg := id.tlsConfig()
	dialer := &tls.Dialer{Config: tlsCfg}
	raw, err := dialer.DialContext(ctx, "tcp", c.addr())
	if err != nil {
		if idErr := id.failure(); idErr != nil {
			return nil, idErr
		}
		return nil, c.wrap(ctx, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = raw.SetDeadline(deadline)
	}

	conn := &ftpsConn{
		text:   textproto.NewConn(raw),
		raw:    raw,
		id:     id,
		tlsCfg: tlsCfg,
		host:   c.cfg.Host,
		stop:   context.AfterFunc(ctx, func() { raw.Close() }),
	}

	if err := conn.login(c.cfg.Username, c.cfg.AccessCode); err != nil {
		conn.close()
		return nil, c.wrap(ctx, err)
	}
	c.log.Debug("ftps session open")
	return conn, nil
}

// wrap maps deadline and network timeouts to ErrTimeout
func (c *FileClient) wrap(ctx context.Context, err error) error {
	if errors.Is(err, ErrLoginRejected) || errors.Is(err, ErrSerialMismatch) || errors.Is(err, ErrFingerprintMismatch) {
		return err
	}
	var ne net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrConnect, err)
}

func (f *ftpsConn) cmd(expect int, format string, args ...interface{}) (int, string, error) {
	id, err := f.text.Cmd(format, args...)
	if err != nil {
		return 0, "", err
	}
	f.text.StartResponse(id)
	defer f.text.EndResponse(id)
	return f.text.ReadResponse(expect)
}

func (f *ftpsConn) login(user, pass string) error {
	if _, _, err := f.text.ReadResponse(2); err != nil {
		return fmt.Errorf("bad greeting: %w", err)
	}
	code, _, err := f.cmd(0, "USER %s", user)
	if err != nil {
		return err
	}
	if code == 331 {
		code, msg, err := f.cmd(0, "PASS %s", pass)
		if err != nil {
			return err
		}
		if code != 230 {
			return fmt.Errorf("%w: %d %s", ErrLoginRejected, code, msg)
		}
	} else if code != 230 {
		return fmt.Errorf("%w: USER answered %d", ErrLoginRejected, code)
	}

	for _, c := range []string{"PBSZ 0", "PROT P", "TYPE I"} {
		if _, _, err := f.cmd(2, "%s", c); err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}
	}
	return nil
}

// transfer opens a passive data connection and issues command on it
func (f *ftpsConn) transfer(ctx context.Context, command string) (net.Conn, error) {
	_, msg, err := f.cmd(227, "PASV")
	if err != nil {
		return nil, err
	}
	port, err := parsePASV(msg)
	if err != nil {
		return nil, err
	}

	// The advertised address is ignored; printers behind NAT report their
	// internal one.
	dialer := &tls.Dialer{Config: f.tlsCfg}
	data, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(f.host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("data connection: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = data.SetDeadline(deadline)
	}

	if _, _, err := f.cmd(1, "%s", command); err != nil {
		data.Close()
		return nil, fmt.Errorf("%s: %w", strings.Fields(command)[0], err)
	}
	return data, nil
}

func (f *ftpsConn) close() {
	f.stop()
	_ = f.raw.SetDeadline(time.Now().Add(time.Second))
	_, _ = f.text.Cmd("QUIT")
	f.text.Close()
}

// parsePASV extracts the port from "Entering Passive Mode (h1,h2,h3,h4,p1,p2)"
func parsePASV(msg string) (int, error) {
	start := strings.Index(msg, "(")
	end := strings.LastIndex(msg, ")")
	if start < 0 || end < start {
		return 0, fmt.Errorf("malformed PASV reply %q", msg)
	}
	parts := strings.Split(msg[start+1:end], ",")
	if len(parts) != 6 {
		return 0, fmt.Errorf("malformed PASV reply %q", msg)
	}
	hi, err1 := strconv.Atoi(strings.TrimSpace(parts[4]))
	lo, err2 := strconv.Atoi(strings.TrimSpace(parts[5]))
	if err1 != nil || err2 != nil || hi < 0 || hi > 255 || lo < 0 || lo > 255 {
		return 0, fmt.Errorf("malformed PASV reply %q", msg)
	}
	return hi<<8 | lo, nil
}

// transferReader closes the data connection, then collects the transfer
// status and logs out.
type transferReader struct {
	io.Reader
	data net.Conn
	conn *ftpsConn
}

func (t *transferReader) Close() error {
	err := t.data.Close()
	// 226 after a full transfer, 426 or 451 when the caller stopped early
	_, _, _ = t.conn.text.ReadResponse(0)
	t.conn.close()
	return err
}

// retrieveReader owns one jlaffaye/ftp session for the life of a RETR
type retrieveReader struct {
	io.Reader
	sc   *ftp.ServerConn
	resp *ftp.Response
	stop func() bool

	mu   sync.Mutex
	done bool
}

func (r *retrieveReader) quit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	_ = r.sc.Quit()
}

func (r *retrieveReader) Close() error {
	if !r.stop() {
		// Context ended; the session is already gone
		r.quit()
		return nil
	}
	// 226 after a full transfer, 426 or 451 when the caller stopped early
	_ = r.resp.Close()
	r.quit()
	return nil
}
