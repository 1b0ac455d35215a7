// Package exclusions persists the set of member ids skipped by the
// status-update reminder.
//
// The file holds one decimal id per line. It is read whole and rewritten
// whole on every change, through a temp file and rename. Toggle edits the
// raw lines, so hand-edited files keep their line endings and comments. There is no
// cross-process or cross-goroutine locking: in the daemon every write comes
// from the single command dispatch goroutine, and the CLI subcommands are
// expected to run while the daemon is stopped.
package exclusions

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"amd/internal/errors"
	logx "amd/pkg/logx"
)

const DefaultPath = "excluded_members.json"

type Store struct {
	path string
	log  logx.Logger
}

func New(path string, log logx.Logger) *Store {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{path: path, log: log}
}

func (s *Store) Path() string { return s.path }

// List returns the ids in file order. A missing file is created empty.
// Lines that are not valid ids are skipped.
func (s *Store) List() ([]uint64, error) {
	raw, err := s.read()
	if err != nil {
		return nil, err
	}
	return parse(raw, s.log), nil
}

// Set returns the ids as a lookup set.
func (s *Store) Set() (map[uint64]struct{}, error) {
	ids, err := s.List()
	if err != nil {
		return nil, err
	}
	set := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// Toggle removes id if present, otherwise appends it. It reports whether id
// is excluded after the call. Only the lines holding id are touched: line
// endings, unrelated lines and the presence of a final newline are kept, so
// toggling the same id twice leaves the file byte-for-byte unchanged.
func (s *Store) Toggle(id uint64) (added bool, err error) {
	if id == 0 {
		return false, errors.New("invalid member id 0")
	}
	raw, err := s.read()
	if err != nil {
		return false, err
	}

	doc := splitLines(raw)
	kept := doc.lines[:0]
	found := false
	for _, l := range doc.lines {
		if v, err := strconv.ParseUint(strings.TrimSpace(l), 10, 64); err == nil && v == id {
			found = true
			continue
		}
		kept = append(kept, l)
	}
	doc.lines = kept
	if !found {
		doc.lines = append(doc.lines, strconv.FormatUint(id, 10)+doc.cr)
	}
	if err := s.write(doc.bytes()); err != nil {
		return false, err
	}
	s.log.Info("exclusion toggled", logx.Uint64("member_id", id), logx.Bool("excluded", !found))
	return !found, nil
}

// lineDoc is a file split on '\n'. Each line keeps a trailing '\r' if it had
// one; cr is "\r" when the file uses CRLF so appended lines match.
type lineDoc struct {
	lines    []string
	trailing bool
	cr       string
}

func splitLines(raw []byte) lineDoc {
	if len(raw) == 0 {
		return lineDoc{trailing: true}
	}
	text := string(raw)
	doc := lineDoc{trailing: strings.HasSuffix(text, "\n")}
	if strings.Contains(text, "\r\n") {
		doc.cr = "\r"
	}
	doc.lines = strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	return doc
}

func (d lineDoc) bytes() []byte {
	if len(d.lines) == 0 {
		return nil
	}
	out := strings.Join(d.lines, "\n")
	if d.trailing {
		out += "\n"
	}
	return []byte(out)
}

func (s *Store) read() ([]byte, error) {
	raw, err := os.ReadFile(s.path)
	if err == nil {
		return raw, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "read exclusions %s", s.path)
	}
	f, cerr := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if cerr != nil {
		return nil, errors.Wrapf(cerr, "create exclusions %s", s.path)
	}
	_ = f.Close()
	return nil, nil
}

func (s *Store) write(content []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp exclusions file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write exclusions")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "sync exclusions")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close exclusions")
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return errors.Wrap(err, "chmod exclusions")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Wrap(err, "replace exclusions")
	}
	return nil
}

func parse(raw []byte, log logx.Logger) []uint64 {
	var out []uint64
	sc := bufio.NewScanner(bytes.NewReader(raw))
	line := 0
	for sc.Scan() {
		line++
		txt := strings.TrimSpace(sc.Text())
		if txt == "" {
			continue
		}
		id, err := strconv.ParseUint(txt, 10, 64)
		if err != nil || id == 0 {
			log.Warn("skipping invalid exclusion entry", logx.Int("line", line), logx.String("value", txt))
			continue
		}
		out = append(out, id)
	}
	return out
}
