// Package chatlog mirrors analysis session events into an append-only text
// file, one line per event, so that another process can follow a running
// analysis.
package chatlog

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

var messagePattern = regexp.MustCompile(
	`^\[(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})\] \[#([^\]]+)\] ([^:]+): (.*)$`,
)

// fallbackInterval re-reads the file when no filesystem event arrives.
const fallbackInterval = 2 * time.Second

type Message struct {
	Timestamp time.Time
	Session   string
	Speaker   string
	Body      string
	Raw       string
}

type ChatLog struct {
	path string
}

func New(path string) *ChatLog {
	return &ChatLog{path: path}
}

func (c *ChatLog) Path() string {
	return c.path
}

var (
	bodyEscaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", "")
	bodyUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n")
)

// ParseMessage parses a single transcript line into a Message. Escaped
// newlines in the body are restored.
func ParseMessage(line string) (Message, error) {
	matches := messagePattern.FindStringSubmatch(strings.TrimRight(line, "\r\n"))
	if matches == nil {
		return Message{}, fmt.Errorf("invalid message format: %s", line)
	}

	ts, err := time.Parse("2006-01-02T15:04:05", matches[1])
	if err != nil {
		return Message{}, fmt.Errorf("parse timestamp: %w", err)
	}

	return Message{
		Timestamp: ts,
		Session:   matches[2],
		Speaker:   strings.TrimSpace(matches[3]),
		Body:      bodyUnescaper.Replace(matches[4]),
		Raw:       line,
	}, nil
}

// FormatMessage creates a formatted transcript line. Newlines in body are
// escaped so that every event stays on one line.
func FormatMessage(session, speaker, body string) string {
	ts := time.Now().Format("2006-01-02T15:04:05")
	return fmt.Sprintf("[%s] [#%s] %s: %s", ts, session, speaker, bodyEscaper.Replace(body))
}

// Append writes a new formatted message to the transcript file.
func (c *ChatLog) Append(session, speaker, body string) error {
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open chatlog for append: %w", err)
	}
	defer f.Close()

	line := FormatMessage(session, speaker, body)
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("write chatlog: %w", err)
	}
	return nil
}

// Poll reads all messages of one session from the transcript.
func (c *ChatLog) Poll(session string) ([]Message, error) {
	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open chatlog: %w", err)
	}
	defer f.Close()

	var messages []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		msg, err := ParseMessage(line)
		if err != nil {
			continue // skip malformed lines
		}
		if msg.Session == session {
			messages = append(messages, msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan chatlog: %w", err)
	}
	return messages, nil
}

// Watch yields messages of one session appended after the call. The read
// offset is taken before Watch returns. Once ctx is done the watcher reads
// what was written up to that point, delivers it and closes the channel, so
// callers should receive until the channel is closed.
func (c *ChatLog) Watch(ctx context.Context, session string) <-chan Message {
	ch := make(chan Message, 16)

	// Start from end of file
	var offset int64
	if info, err := os.Stat(c.path); err == nil {
		offset = info.Size()
	}

	// The directory is watched rather than the file: the file may not exist
	// yet and Truncate replaces it by rename. Without a watcher the fallback
	// tick alone drives reads.
	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err := watcher.Add(filepath.Dir(c.path)); err != nil {
			watcher.Close()
			watcher = nil
		} else {
			events, watchErrs = watcher.Events, watcher.Errors
		}
	}
	target := filepath.Clean(c.path)

	go func() {
		defer close(ch)
		if watcher != nil {
			defer watcher.Close()
		}

		ticker := time.NewTicker(fallbackInterval)
		defer ticker.Stop()

		flush := func() {
			newMessages, newOffset, err := c.readFrom(offset, session)
			if err != nil {
				return
			}
			offset = newOffset
			for _, msg := range newMessages {
				ch <- msg
			}
		}

		for {
			select {
			case <-ctx.Done():
				flush()
				return
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					flush()
				}
			case _, ok := <-watchErrs:
				if !ok {
					watchErrs = nil
				}
			case <-ticker.C:
				flush()
			}
		}
	}()

	return ch
}

// Truncate keeps only the latest maxLines lines of the transcript and
// returns how many lines were removed. It writes a temp file and renames it
// over the original. A missing file is not an error.
func (c *ChatLog) Truncate(maxLines int) (int, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read chatlog: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) <= maxLines {
		return 0, nil
	}

	removed := len(lines) - maxLines
	lines = lines[removed:]

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		return 0, fmt.Errorf("write temp chatlog: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename chatlog: %w", err)
	}
	return removed, nil
}

func (c *ChatLog) readFrom(offset int64, session string) ([]Message, int64, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, offset, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, offset, err
	}

	if info.Size() < offset {
		// truncated underneath us: skip to the new end
		return nil, info.Size(), nil
	}
	if info.Size() == offset {
		return nil, offset, nil
	}

	if _, err := f.Seek(offset, 0); err != nil {
		return nil, offset, err
	}

	var messages []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		msg, err := ParseMessage(line)
		if err != nil {
			continue
		}
		if msg.Session == session {
			messages = append(messages, msg)
		}
	}

	return messages, info.Size(), scanner.Err()
}
