package main

import (
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/scrypster/pluginstats/internal/config"
)

// setupLogging tees the standard logger into a size-rotated file when one is
// configured. The returned func closes the file and restores stderr.
func setupLogging(cfg config.LogConfig) func() {
	if cfg.File == "" {
		return func() {}
	}

	w := &closeOnceWriter{Writer: &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB, // MB
		MaxBackups: cfg.MaxBackups,
	}}
	log.SetOutput(io.MultiWriter(os.Stderr, w))

	return func() {
		log.SetOutput(os.Stderr)
		_ = w.Close()
	}
}

// closeOnceWriter refuses writes after Close; lumberjack would otherwise
// reopen the file on the next Write.
type closeOnceWriter struct {
	Writer io.WriteCloser

	mu     sync.Mutex
	closed bool
}

func (c *closeOnceWriter) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	return c.Writer.Write(p)
}

func (c *closeOnceWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.Writer.Close()
}
