package proxy

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Diary is the append-only phone call journal. Records are written on
// every forward-class INVITE, ACK and BYE with no dialog correlation, so
// concurrent calls interleave.
type Diary struct {
	path string

	mu  sync.Mutex
	now func() time.Time
}

func NewDiary(path string) *Diary {
	return &Diary{path: path, now: time.Now}
}

// CallPlaced appends the opening record of a call.
func (d *Diary) CallPlaced(origin, destination string) error {
	return d.append(fmt.Sprintf("Call record:\n\tFrom: %s\n\tTo: %s\n\tTime of calling: %s\n",
		origin, destination, d.clock()))
}

// CallAnswered appends the answering timestamp.
func (d *Diary) CallAnswered() error {
	return d.append(fmt.Sprintf("\tTime of answering: %s\n", d.clock()))
}

// CallEnded appends the hang-up timestamp.
func (d *Diary) CallEnded() error {
	return d.append(fmt.Sprintf("\tTime of hanging up: %s\n", d.clock()))
}

func (d *Diary) clock() string {
	return d.now().Format("15:04:05")
}

// append opens the journal per write so no file handle outlives the event.
func (d *Diary) append(record string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := os.OpenFile(d.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open call diary: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(record); err != nil {
		return fmt.Errorf("append call diary: %w", err)
	}
	return nil
}
