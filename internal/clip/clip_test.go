package clip

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/tickettrail/internal/events"
)

var errNoClipboard = errors.New("no clipboard")

func TestCopy_Native(t *testing.T) {
	var got string
	c := New(
		WithNative(func(s string) error { got = s; return nil }),
		WithTerminal(&bytes.Buffer{}, func() bool { t.Fatal("terminal should not be used"); return false }),
	)

	res, err := c.Copy("  FOB12345 ")
	require.NoError(t, err)
	assert.Equal(t, MethodNative, res.Method)
	assert.Empty(t, res.FilePath)
	assert.Equal(t, "FOB12345", got)
}

func TestCopy_OSC52Fallback(t *testing.T) {
	t.Setenv("TMUX", "")
	t.Setenv("STY", "")
	var buf bytes.Buffer
	c := New(
		WithNative(func(string) error { return errNoClipboard }),
		WithTerminal(&buf, func() bool { return true }),
	)

	res, err := c.Copy("FOB12345")
	require.NoError(t, err)
	assert.Equal(t, MethodOSC52, res.Method)
	assert.True(t, strings.HasPrefix(buf.String(), "\x1b]52;c;"), "got %q", buf.String())
}

func TestCopy_FileFallback(t *testing.T) {
	dir := t.TempDir()
	c := New(
		WithNative(func(string) error { return errNoClipboard }),
		WithTerminal(&bytes.Buffer{}, func() bool { return false }),
		WithFallbackDir(dir),
	)

	res, err := c.Copy("FOB12345")
	require.NoError(t, err)
	assert.Equal(t, MethodFile, res.Method)
	require.NotEmpty(t, res.FilePath)
	assert.True(t, strings.HasPrefix(res.FilePath, dir))

	data, err := os.ReadFile(res.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "FOB12345\n", string(data))
}

func TestCopy_OversizedTextSkipsOSC52(t *testing.T) {
	var buf bytes.Buffer
	c := New(
		WithNative(func(string) error { return errNoClipboard }),
		WithTerminal(&buf, func() bool { return true }),
		WithFallbackDir(t.TempDir()),
	)

	res, err := c.Copy(strings.Repeat("x", osc52LimitBytes+1))
	require.NoError(t, err)
	assert.Equal(t, MethodFile, res.Method)
	assert.Zero(t, buf.Len())
}

func TestCopy_Empty(t *testing.T) {
	c := New(WithNative(func(string) error { return nil }))

	_, err := c.Copy("   ")
	assert.Error(t, err)
}

func TestWatch_CopiesStartedRows(t *testing.T) {
	copied := make(chan string, 4)
	c := New(WithNative(func(s string) error { copied <- s; return nil }))

	ch := make(chan events.Event, 4)
	ch <- events.NewRowLocatedEvent("Support Q1", 4, 99, nil, false)
	ch <- events.NewRowStartedEvent("Support Q1", 4, "", "SUPPORT")
	ch <- events.NewRowStartedEvent("Support Q1", 5, "FOB777", "SUPPORT")
	close(ch)

	done := make(chan struct{})
	go func() {
		c.Watch(context.Background(), ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after channel close")
	}
	require.Len(t, copied, 1)
	assert.Equal(t, "FOB777", <-copied)
}

func TestWatch_StopsOnContext(t *testing.T) {
	c := New(WithNative(func(string) error { return nil }))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		c.Watch(ctx, make(chan events.Event))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not stop on cancelled context")
	}
}
