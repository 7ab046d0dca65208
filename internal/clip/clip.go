// Package clip puts the external id of the row being processed on the
// operator's clipboard so it can be pasted into the ticketing search.
package clip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	atotto "github.com/atotto/clipboard"
	osc52 "github.com/aymanbagabas/go-osc52/v2"
	"golang.org/x/term"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/events"
	"github.com/hugo-lorenzo-mato/tickettrail/internal/logging"
)

// Method is the mechanism that made the text available.
type Method string

const (
	MethodNative Method = "native"
	MethodOSC52  Method = "osc52"
	MethodFile   Method = "file"
)

// Result reports where a copy ended up. FilePath is set for MethodFile.
type Result struct {
	Method   Method
	FilePath string
}

// External ids are short; anything bigger is not ours.
const osc52LimitBytes = 4096

// Copier writes text to the first clipboard that accepts it: the native
// clipboard, then the terminal via OSC52, then a file in FallbackDir.
type Copier struct {
	native      func(string) error
	terminal    io.Writer
	isTerminal  func() bool
	fallbackDir string
	logger      *logging.Logger
}

// Option configures a Copier.
type Option func(*Copier)

// WithNative replaces the native clipboard writer.
func WithNative(fn func(string) error) Option {
	return func(c *Copier) { c.native = fn }
}

// WithTerminal sets where OSC52 sequences go and whether it is a terminal.
func WithTerminal(w io.Writer, isTerminal func() bool) Option {
	return func(c *Copier) {
		c.terminal = w
		c.isTerminal = isTerminal
	}
}

// WithFallbackDir sets the directory for the file fallback.
func WithFallbackDir(dir string) Option {
	return func(c *Copier) { c.fallbackDir = dir }
}

// WithLogger sets the logger used by Watch.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Copier) { c.logger = logger }
}

// New creates a Copier wired to the real clipboard and stderr.
func New(opts ...Option) *Copier {
	c := &Copier{
		native:   atotto.WriteAll,
		terminal: os.Stderr,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stderr.Fd()))
		},
		fallbackDir: os.TempDir(),
		logger:      logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Copy makes text available to the operator.
func (c *Copier) Copy(text string) (Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, errors.New("nothing to copy")
	}

	if c.native != nil {
		if err := c.native(text); err == nil {
			return Result{Method: MethodNative}, nil
		}
	}
	if err := c.writeOSC52(text); err == nil {
		return Result{Method: MethodOSC52}, nil
	}

	path, err := c.writeFile(text)
	if err != nil {
		return Result{}, fmt.Errorf("copying %q: %w", text, err)
	}
	return Result{Method: MethodFile, FilePath: path}, nil
}

func (c *Copier) writeOSC52(text string) error {
	if c.terminal == nil || c.isTerminal == nil || !c.isTerminal() {
		return errors.New("no terminal")
	}
	if len(text) > osc52LimitBytes {
		return fmt.Errorf("text too large for OSC52 (%d bytes)", len(text))
	}

	seq := osc52.New(text)
	switch {
	case os.Getenv("TMUX") != "":
		seq = seq.Tmux()
	case os.Getenv("STY") != "":
		seq = seq.Screen()
	}
	_, err := seq.WriteTo(c.terminal)
	return err
}

func (c *Copier) writeFile(text string) (string, error) {
	if err := os.MkdirAll(c.fallbackDir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(c.fallbackDir, "tickettrail-id-*.txt")
	if err != nil {
		return "", err
	}
	path := f.Name()
	if _, err := f.WriteString(text + "\n"); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// Watch copies the external id of every row_started event until ctx is
// done or ch is closed.
func (c *Copier) Watch(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			started, ok := ev.(events.RowStartedEvent)
			if !ok || started.ExternalID == "" {
				continue
			}
			res, err := c.Copy(started.ExternalID)
			if err != nil {
				c.logger.Warn("copy external id failed", "row", started.Row, "error", err)
				continue
			}
			c.logger.Debug("external id copied", "row", started.Row, "method", string(res.Method), "file", res.FilePath)
		}
	}
}
