package logger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const (
	queueSize     = 1000
	flushInterval = 2 * time.Second
)

// AsyncFileWriter queues log lines and writes them from a single goroutine.
// A full queue drops the line instead of blocking the request path.
type AsyncFileWriter struct {
	writer    *bufio.Writer
	file      *os.File
	logChan   chan []byte
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func NewAsyncFileWriter(logFile string, bufferSize int) (*AsyncFileWriter, error) {
	file, err := os.OpenFile(filepath.Clean(logFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}

	aw := &AsyncFileWriter{
		writer:  bufio.NewWriterSize(file, bufferSize),
		file:    file,
		logChan: make(chan []byte, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go aw.processLogs()
	return aw, nil
}

func (aw *AsyncFileWriter) Write(p []byte) (int, error) {
	select {
	case <-aw.done:
		return 0, os.ErrClosed
	default:
	}
	select {
	case aw.logChan <- append([]byte{}, p...):
	default:
		aw.dropped.Add(1)
	}
	return len(p), nil
}

// Dropped is the number of lines lost to a full queue.
func (aw *AsyncFileWriter) Dropped() uint64 {
	return aw.dropped.Load()
}

func (aw *AsyncFileWriter) processLogs() {
	defer close(aw.stopped)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case logData := <-aw.logChan:
			aw.write(logData)
		case <-ticker.C:
			_ = aw.writer.Flush()
		case <-aw.done:
			for {
				select {
				case logData := <-aw.logChan:
					aw.write(logData)
				default:
					_ = aw.writer.Flush()
					return
				}
			}
		}
	}
}

func (aw *AsyncFileWriter) write(logData []byte) {
	if _, err := aw.writer.Write(logData); err != nil {
		fmt.Fprintln(os.Stderr, "error writing log data to file", err)
	}
}

// Close drains queued lines, flushes and closes the file.
func (aw *AsyncFileWriter) Close() error {
	var err error
	aw.closeOnce.Do(func() {
		close(aw.done)
		<-aw.stopped
		err = aw.file.Close()
	})
	return err
}
