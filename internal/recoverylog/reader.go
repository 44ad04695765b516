package recoverylog

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Replay reads every segment file under dir in ascending sequence
// order and calls handle for each well-formed record in turn. A
// missing directory replays as empty. A torn write at the tail of the
// newest segment (the active one, possibly never fsynced past the
// crash point) ends replay cleanly rather than failing it; any other
// checksum failure is returned as an error, since it indicates
// on-disk corruption rather than an in-progress write.
func Replay(dir string, handle func(*Entry) error) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var found segmentEntries
	for _, entry := range entries {
		if !entry.Type().IsRegular() || filepath.Ext(entry.Name()) != logFileExt {
			continue
		}
		matches := segmentFileNamePattern.FindStringSubmatch(entry.Name())
		if len(matches) != 2 {
			continue
		}
		id, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		found = append(found, segmentEntry{id: id, name: entry.Name()})
	}
	sort.Sort(found)

	for _, e := range found {
		if err := replaySegment(filepath.Join(dir, e.name), handle); err != nil {
			return err
		}
	}
	return nil
}

func replaySegment(path string, handle func(*Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		entry, err := Decode(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := handle(entry); err != nil {
			return err
		}
	}
}
