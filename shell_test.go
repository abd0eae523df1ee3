package main

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrompter_CancelUnblocksAsk(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	p := newPrompter(ctx, pr, io.Discard)
	assert.False(t, p.interactive)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, ok := p.ask("Enter your choice: ")
	assert.False(t, ok)

	// The reader goroutine is parked in Scan; closing the input releases it.
	require.NoError(t, pw.Close())
	select {
	case _, open := <-p.lines:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("line reader did not exit after input closed")
	}
}

func TestPrompter_StopsReadingAfterCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancel := context.WithCancel(context.Background())
	p := newPrompter(ctx, pr, io.Discard)

	go io.WriteString(pw, "1\n")
	line, ok := p.ask("")
	require.True(t, ok)
	assert.Equal(t, "1", line)

	cancel()
	go io.WriteString(pw, "2\n")

	var late []string
	done := make(chan struct{})
	go func() {
		for l := range p.lines {
			late = append(late, l)
		}
		close(done)
	}()
	select {
	case <-done:
		assert.Empty(t, late)
	case <-time.After(2 * time.Second):
		t.Fatal("line reader kept running after cancellation")
	}
}
