// Package mbox streams raw messages out of an mbox archive for replay.
package mbox

import (
	"errors"
	"fmt"
	"io"
	"os"

	mboxlib "github.com/emersion/go-mbox"
)

// Walk opens an mbox file and calls fn with the raw bytes of each message
// in order. Messages that cannot be read are skipped after reporting the
// error through fn with nil raw bytes; a replay should not stop because
// one archived message is damaged.
func Walk(path string, fn func(index int, raw []byte, readErr error) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			if cbErr := fn(idx, nil, fmt.Errorf("message %d read: %w", idx, err)); cbErr != nil {
				return cbErr
			}
			continue
		}

		if err := fn(idx, raw, nil); err != nil {
			return err
		}
	}
}

// Count returns the number of messages in the archive, for sizing the
// replay progress bar. Unreadable messages still count.
func Count(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			count++
			continue
		}
		count++
	}
}
