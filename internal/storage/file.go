package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "expirybot/pkg/logx"
)

// fileStore is a dependency-free ledger backend.
//
// Files:
//   - <prefix>.ledger.snapshot.json (periodic snapshot, JSON array)
//   - <prefix>.ledger.journal.jsonl (append-only full-row journal)
//
// Every insert and finalize appends the full row; the journal is compacted
// into the snapshot every compactEvery writes.
type fileStore struct {
	log logx.Logger
	now func() time.Time

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	rows         map[string]*Record
	order        []string // insertion order

	writes int
}

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Ledger, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".ledger.snapshot.json"
	journalPath := prefix + ".ledger.journal.jsonl"

	s := &fileStore{log: log, now: time.Now, snapshotPath: snapPath, rows: map[string]*Record{}}
	if err := s.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("ledger snapshot unreadable; starting from journal", logx.Err(err))
	}
	if err := s.replayJournal(journalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journal = jf
	return s, nil
}

func (s *fileStore) put(r Record) {
	if _, ok := s.rows[r.ID]; !ok {
		s.order = append(s.order, r.ID)
	}
	cp := r
	s.rows[r.ID] = &cp
}

func (s *fileStore) loadSnapshot() error {
	f, err := os.Open(s.snapshotPath)
	if err != nil {
		return err
	}
	defer f.Close()
	var rows []Record
	if err := json.NewDecoder(f).Decode(&rows); err != nil {
		return err
	}
	for _, r := range rows {
		s.put(r)
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			continue
		}
		s.put(r)
	}
	return sc.Err()
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) appendLocked(r Record) error {
	if s.journal == nil {
		return errors.New("ledger journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.put(r)
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("ledger compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) WasNotifiedToday(ctx context.Context, phone string, category Category, day Day) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return false, ErrDisabled
	}
	for _, r := range s.rows {
		if r.Phone == phone && r.Category == category && r.Status == StatusSent &&
			r.Direction == Outbound && day.Contains(r.SentAt) {
			return true, nil
		}
	}
	return false, nil
}

func (s *fileStore) Record(ctx context.Context, d Draft) (Record, error) {
	_ = ctx
	d = d.normalized()
	rec := Record{
		ID:        uuid.NewString(),
		Phone:     d.Phone,
		Message:   d.Message,
		Status:    d.Status,
		Direction: d.Direction,
		Category:  d.Category,
		SentAt:    d.At,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *fileStore) Finalize(ctx context.Context, id string, status Status, errText string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	next := *cur
	next.Status = status
	next.Error = clip(errText)
	next.SentAt = s.now().UTC()
	return s.appendLocked(next)
}

func (s *fileStore) List(ctx context.Context, q Query) (Page, error) {
	_ = ctx
	q = q.normalized()

	s.mu.Lock()
	matched := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		r := s.rows[id]
		if q.Phone != "" && r.Phone != q.Phone {
			continue
		}
		if q.Category != "" && r.Category != q.Category {
			continue
		}
		if q.Status != "" && r.Status != q.Status {
			continue
		}
		matched = append(matched, *r)
	}
	s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].SentAt.After(matched[j].SentAt) })

	total := len(matched)
	start := min(q.offset(), total)
	end := min(start+q.PageSize, total)
	return newPage(q, matched[start:end], total), nil
}

func (s *fileStore) compactLocked() error {
	rows := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		rows = append(rows, *s.rows[id])
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(rows); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}
