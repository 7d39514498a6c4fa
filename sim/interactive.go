package sim

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/mattn/go-tty"
	"golang.org/x/sync/errgroup"
)

// Terminal is the keyboard side of an interactive session.
type Terminal interface {
	ReadRune() (rune, error)
}

// Interactive boots the machine described by cfg with the host terminal
// attached to the UART. The firmware echoes input until it reads 'q'.
func Interactive(ctx context.Context, cfg Config) (Result, error) {
	t, err := tty.Open()
	if err != nil {
		return Result{}, fmt.Errorf("sim: opening terminal: %w", err)
	}
	defer t.Close()

	restore := t.MustRaw()
	defer restore()

	cfg.Firmware.Echo = true
	m, err := NewMachine(cfg, crlfWriter{t.Output()})
	if err != nil {
		return Result{}, err
	}
	return m.Session(ctx, t)
}

// Session boots m while feeding keystrokes from term into the UART receive
// FIFO. It returns once the machine stops; the session ends early if ctx is
// cancelled. The configured budget does not apply: the firmware polls for
// input for as long as the user takes to type.
func (m *Machine) Session(ctx context.Context, term Terminal) (Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	// ReadRune cannot be interrupted; the reader exits on the first key
	// pressed after the session ends.
	keys := make(chan rune)
	go func() {
		defer close(keys)
		for {
			r, err := term.ReadRune()
			if err != nil {
				return
			}
			select {
			case keys <- r:
			case <-runCtx.Done():
				return
			}
		}
	}()

	var res Result
	g.Go(func() error {
		defer stop()
		var err error
		res, err = m.boot(runCtx, 0)
		return err
	})
	g.Go(func() error {
		var buf [1]byte
		for {
			select {
			case <-runCtx.Done():
				return nil
			case r, ok := <-keys:
				if !ok {
					return nil
				}
				n := encodeRune(buf[:], r)
				if m.UART.Feed(buf[:n]) < n {
					m.log.Warn("uart receive fifo full; dropping input")
				}
			}
		}
	})

	err := g.Wait()
	return res, err
}

// encodeRune stores r in p, replacing runes the UART cannot carry with '?'.
func encodeRune(p []byte, r rune) int {
	switch {
	case r == '\r':
		p[0] = '\n'
	case r < 0x80:
		p[0] = byte(r)
	default:
		p[0] = '?'
	}
	return 1
}

// crlfWriter expands line feeds for a terminal in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if _, err := c.w.Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}
