// Package tty implements the TTY Writer (C8): serialized, best-effort
// writes of a short denial message to the terminal controlling a denied
// process (spec §4.8). Writes never block the caller: they are queued to
// a single serial worker and dropped (with a warning) if the terminal
// cannot be opened or written to.
package tty

import (
	"fmt"
	"log"
	"os"

	"golang.org/x/term"
)

const queueDepth = 256

// Message is one denial notice destined for a process's controlling
// terminal.
type Message struct {
	// TTYPath is the device path of the process's controlling terminal
	// (e.g. "/dev/ttys003"), supplied by the out-of-scope host
	// integration alongside the Target; empty means the process has no
	// controlling terminal and the write is skipped.
	TTYPath string
	Text    string
}

// Writer serializes writes onto a single background goroutine so that no
// caller on the AUTH path ever blocks on terminal I/O (spec §5: "TTY
// writes are serialized on a single queue").
type Writer struct {
	queue chan Message
	done  chan struct{}
}

// NewWriter starts the writer's background worker.
func NewWriter() *Writer {
	w := &Writer{
		queue: make(chan Message, queueDepth),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue submits msg for best-effort delivery. It never blocks the
// Dispatcher: a full queue drops the message and logs a warning, matching the
// spec's "best-effort" contract for this component.
func (w *Writer) Enqueue(msg Message) {
	if msg.TTYPath == "" {
		return
	}
	select {
	case w.queue <- msg:
	default:
		log.Printf("tty: queue full, dropping denial message for %s", msg.TTYPath)
	}
}

// Close stops accepting new messages and waits for the worker to drain.
func (w *Writer) Close() {
	close(w.queue)
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	for msg := range w.queue {
		if err := writeOne(msg); err != nil {
			log.Printf("tty: dropping denial message for %s: %v", msg.TTYPath, err)
		}
	}
}

func writeOne(msg Message) error {
	f, err := os.OpenFile(msg.TTYPath, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", msg.TTYPath, err)
	}
	defer f.Close()

	text := msg.Text
	if term.IsTerminal(int(f.Fd())) {
		text = "\033[1;31m" + text + "\033[0m"
	}
	if len(text) == 0 || text[len(text)-1] != '\n' {
		text += "\n"
	}
	_, err = f.WriteString(text)
	return err
}
