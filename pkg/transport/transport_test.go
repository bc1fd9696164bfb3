package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readUntilData(t *testing.T, tr Transport, max int) []byte {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		b, err := tr.ReadChunk(ctx, max)
		require.NoError(t, err)
		if len(b) > 0 {
			return b
		}
	}
	t.Fatal("no data received")
	return nil
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeBlocking, m)
	m, err = ParseMode("Async")
	require.NoError(t, err)
	assert.Equal(t, ModeSuspend, m)
	_, err = ParseMode("threads")
	assert.Error(t, err)
}

func TestBlockingReadChunkTimesOutWithoutData(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	tr := Wrap(client, ModeBlocking, 20*time.Millisecond)
	defer tr.Close()

	start := time.Now()
	b, err := tr.ReadChunk(context.Background(), 1024)
	require.NoError(t, err)
	assert.Nil(t, b, "轮询周期内无数据应返回 nil")
	assert.Less(t, time.Since(start), time.Second)

	go server.Write([]byte("Username: "))
	assert.Equal(t, "Username: ", string(readUntilData(t, tr, 1024)))
}

func TestSuspendReadChunkSplitsByMax(t *testing.T) {
	client, server := net.Pipe()
	tr := Wrap(client, ModeSuspend, 20*time.Millisecond)
	defer tr.Close()

	go func() {
		server.Write([]byte("abcdef"))
		server.Close()
	}()

	assert.Equal(t, "abcd", string(readUntilData(t, tr, 4)))
	assert.Equal(t, "ef", string(readUntilData(t, tr, 4)))

	var err error
	for i := 0; i < 20 && err == nil; i++ {
		_, err = tr.ReadChunk(context.Background(), 4)
	}
	assert.ErrorIs(t, err, io.EOF)
}

func TestSuspendReadChunkHonoursContext(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	tr := Wrap(client, ModeSuspend, time.Hour)
	defer tr.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.ReadChunk(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCloseIsIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	for _, mode := range []Mode{ModeBlocking, ModeSuspend} {
		tr := Wrap(client, mode, 10*time.Millisecond)
		assert.NotPanics(t, func() {
			tr.Close()
			tr.Close()
		})
	}
}

func TestTelnetDialer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		c.Write([]byte("Username: "))
		buf := make([]byte, 64)
		n, _ := c.Read(buf)
		got <- string(buf[:n])
	}()

	for _, mode := range []Mode{ModeBlocking} {
		dial := Telnet(Options{Mode: mode, PollInterval: 50 * time.Millisecond})
		tr, err := dial(context.Background(), ln.Addr().String())
		require.NoError(t, err)

		assert.Equal(t, "Username: ", string(readUntilData(t, tr, 1024)))
		_, err = tr.Write([]byte("alice\n"))
		require.NoError(t, err)
		assert.Equal(t, "alice\n", <-got)
		require.NoError(t, tr.Close())
	}
}

func TestTelnetDialerUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Telnet(Options{DialTimeout: time.Second})(context.Background(), addr)
	assert.Error(t, err)
}

func TestHostPort(t *testing.T) {
	assert.Equal(t, "10.0.0.1:23", hostPort("10.0.0.1", 23))
	assert.Equal(t, "10.0.0.1:2323", hostPort("10.0.0.1:2323", 23))
}
