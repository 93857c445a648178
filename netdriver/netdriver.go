// Package netdriver supplies the net.Conn-driving goroutine loop the
// connection engine (package http2) needs but deliberately doesn't own
// itself: reading bytes off the wire, writing whatever the engine
// produces, and the idle/ping timers that decide when a quiet connection
// should be torn down.
//
// Grounded on serverConn.go's Serve/readLoop/writeLoop/pingTimer/
// maxIdleTimer split, reshaped around http2.Conn's externally-driven
// Next*/Read*/Report*/YieldWriter contract instead of channels.
package netdriver

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/nullsum/h2engine/http2"
)

// Serve drives conn over c until the connection closes, the peer
// disconnects, or a write fails. It blocks until then, same contract as
// serverConn.Serve.
func Serve(c net.Conn, conn *http2.Conn, cfg *http2.Config) error {
	d := &driver{c: c, conn: conn, cfg: cfg}
	return d.run()
}

type driver struct {
	c    net.Conn
	conn *http2.Conn
	cfg  *http2.Config

	readErr   chan error
	closeOnce chan struct{}
}

func (d *driver) run() error {
	d.readErr = make(chan error, 1)
	d.closeOnce = make(chan struct{})

	if err := d.c.SetReadDeadline(time.Time{}); err == nil {
		err = d.c.SetWriteDeadline(time.Time{})
		if err != nil {
			return err
		}
	} else {
		return err
	}

	var idleTimer *time.Timer
	if d.cfg.MaxIdleTime > 0 {
		idleTimer = time.AfterFunc(d.cfg.MaxIdleTime, func() {
			d.conn.Shutdown("connection idle")
		})
		defer idleTimer.Stop()
	}

	var pingTicker *time.Ticker
	if d.cfg.PingInterval > 0 {
		pingTicker = time.NewTicker(d.cfg.PingInterval)
		defer pingTicker.Stop()
		go func() {
			for {
				select {
				case <-pingTicker.C:
					d.conn.SendPing()
				case <-d.closeOnce:
					return
				}
			}
		}()
	}

	go d.readLoop(idleTimer)

	err := d.writeLoop()

	close(d.closeOnce)
	_ = d.c.Close()

	if readErr := <-d.readErr; readErr != nil && err == nil {
		if !errors.Is(readErr, io.EOF) && !errors.Is(readErr, net.ErrClosed) {
			err = readErr
		}
	}

	return err
}

// readLoop feeds whatever arrives on the socket into the engine, one
// Read call per successful socket read. It calls ReadEOF once a socket
// read fails (the peer went away), and stops without it once the engine
// reports ReadOpClose.
func (d *driver) readLoop(idleTimer *time.Timer) {
	defer func() { d.readErr <- d.readLoopErr(idleTimer) }()
}

func (d *driver) readLoopErr(idleTimer *time.Timer) error {
	bufSize := int(d.cfg.ReadBufferSize)
	if bufSize <= 0 {
		bufSize = http2.DefaultMaxFrameSize
	}
	buf := make([]byte, bufSize+http2.DefaultFrameSize)

	for {
		if d.conn.NextReadOperation() == http2.ReadOpClose {
			return nil
		}

		n, err := d.c.Read(buf)
		if idleTimer != nil && n > 0 {
			idleTimer.Reset(d.cfg.MaxIdleTime)
		}
		if n > 0 {
			d.conn.Read(buf[:n])
		}
		if err != nil {
			d.conn.ReadEOF(nil)
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// writeLoop pulls whatever the engine has queued and puts it on the
// wire, parking on the one-shot writer-wakeup slot (spec §5/§9) when
// there's nothing to send.
func (d *driver) writeLoop() error {
	for {
		op := d.conn.NextWriteOperation()

		switch op.Kind {
		case http2.WriteOpWrite:
			n, err := d.c.Write(op.Data)
			d.conn.ReportWriteResult(n, err)
			if err != nil {
				return err
			}
		case http2.WriteOpYield:
			woken := make(chan struct{})
			d.conn.YieldWriter(func() { close(woken) })
			select {
			case <-woken:
			case <-d.closeOnce:
				return nil
			}
		case http2.WriteOpClose:
			return nil
		}
	}
}
