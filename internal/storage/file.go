package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	logx "eventbot/pkg/logx"
)

const compactEvery = 256

// fileStore keeps the registry in memory and persists it as:
//   - <prefix>.snapshot.json       (sorted id list, rewritten atomically)
//   - <prefix>.journal.jsonl       (append-only add/remove records)
//   - <prefix>.audit.jsonl         (append-only audit trail)
//
// The journal is folded into the snapshot on open and every compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	audit        *os.File

	ids    map[int64]struct{}
	writes int
}

type journalRecord struct {
	Op        string `json:"op"` // "add" | "remove"
	ChannelID int64  `json:"channel_id"`
	At        int64  `json:"at"` // unix milli
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, persistErr(err, "create storage dir")
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	ids := map[int64]struct{}{}
	if err := loadSnapshot(snapPath, ids); err != nil && !os.IsNotExist(err) {
		return nil, persistErr(err, "load snapshot %s", snapPath)
	}
	replayed, err := replayJournal(journalPath, ids)
	if err != nil && !os.IsNotExist(err) {
		return nil, persistErr(err, "replay journal %s", journalPath)
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, persistErr(err, "open journal")
	}
	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, persistErr(err, "open audit log")
	}

	s := &fileStore{log: log, snapshotPath: snapPath, journal: jf, audit: af, ids: ids}
	if replayed > 0 {
		s.mu.Lock()
		if err := s.compactLocked(); err != nil {
			log.Warn("registry compact failed", logx.Err(err))
		}
		s.mu.Unlock()
	}
	log.Debug("file registry opened", logx.String("path", snapPath), logx.Int("channels", len(ids)), logx.Int("replayed", replayed))
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
		s.journal = nil
	}
	if s.audit != nil {
		errs = append(errs, s.audit.Close())
		s.audit = nil
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStore) List(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, persistErr(ErrClosed, "list")
	}
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (s *fileStore) Add(ctx context.Context, channelID int64) error {
	return s.write("add", channelID)
}

func (s *fileStore) Remove(ctx context.Context, channelID int64) error {
	return s.write("remove", channelID)
}

func (s *fileStore) write(op string, channelID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return persistErr(ErrClosed, op)
	}
	_, present := s.ids[channelID]
	if (op == "add" && present) || (op == "remove" && !present) {
		return nil
	}

	rec := journalRecord{Op: op, ChannelID: channelID, At: time.Now().UnixMilli()}
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return persistErr(err, "%s %d", op, channelID)
	}
	if err := s.journal.Sync(); err != nil {
		return persistErr(err, "%s %d: sync", op, channelID)
	}
	applyRecord(s.ids, rec)

	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("registry compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audit == nil {
		return persistErr(ErrClosed, "audit")
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return persistErr(json.NewEncoder(s.audit).Encode(e), "audit")
}

func (s *fileStore) compactLocked() error {
	ids := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(ids); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[int64]struct{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var ids []int64
	if err := json.NewDecoder(f).Decode(&ids); err != nil {
		return err
	}
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return nil
}

// replayJournal applies records in order. A torn trailing line is skipped.
func replayJournal(path string, out map[int64]struct{}) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if applyRecord(out, r) {
			n++
		}
	}
	return n, sc.Err()
}

func applyRecord(ids map[int64]struct{}, r journalRecord) bool {
	switch r.Op {
	case "add":
		ids[r.ChannelID] = struct{}{}
	case "remove":
		delete(ids, r.ChannelID)
	default:
		return false
	}
	return true
}
