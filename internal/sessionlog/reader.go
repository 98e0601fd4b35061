package sessionlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mzhaom/codex-appserver/internal/ndjson"
)

// Replay reads a trace and calls fn for every entry in file order. Header
// lines, including instance marks, are passed to onHeader when it is not
// nil. Lines that do not decode are skipped.
func Replay(r io.Reader, onHeader func(Header), fn func(Entry) error) error {
	lr := ndjson.NewReader(r)
	for {
		line, err := lr.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, ndjson.ErrLineTooLong) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read session log: %w", err)
		}

		var head struct {
			Format    string `json:"format"`
			Direction string `json:"direction"`
		}
		if json.Unmarshal(line, &head) != nil {
			continue
		}
		if head.Direction == "" {
			if head.Format == "" || onHeader == nil {
				continue
			}
			var h Header
			if json.Unmarshal(line, &h) == nil {
				onHeader(h)
			}
			continue
		}

		var e Entry
		if json.Unmarshal(line, &e) != nil {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

// ReplayFile opens path and replays it.
func ReplayFile(path string, onHeader func(Header), fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open session log: %w", err)
	}
	defer f.Close()
	return Replay(f, onHeader, fn)
}
