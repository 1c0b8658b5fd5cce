package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"schedtrack/internal/enrollment"
	"schedtrack/internal/schedule"
	logx "schedtrack/pkg/logx"
)

// fileStore keeps the whole state in memory and persists every write.
//
// Files:
//   - <prefix>.snapshot.json  (periodic snapshot)
//   - <prefix>.journal.jsonl  (append-only journal)
//
// The journal is compacted into the snapshot every CompactEvery writes
// and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.RWMutex
	st *state

	snapshotPath string
	journalFile  *os.File

	writes       int
	compactEvery int
}

const (
	opSchedulePut   = "schedule.put"
	opScheduleDel   = "schedule.del"
	opEnrollmentPut = "enrollment.put"
)

type journalRecord struct {
	Op         string                 `json:"op"`
	Name       string                 `json:"name,omitempty"`
	Schedule   json.RawMessage        `json:"schedule,omitempty"`
	Enrollment *enrollment.Enrollment `json:"enrollment,omitempty"`
}

type snapshot struct {
	Schedules   []json.RawMessage       `json:"schedules"`
	Enrollments []enrollment.Enrollment `json:"enrollments"`
}

func openFile(cfg Config, log logx.Logger) (Repository, error) {
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

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	st := newState()
	if err := loadSnapshot(snapPath, st); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	n, err := replayJournal(journalPath, st, log)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("replay journal: %w", err)
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	every := cfg.CompactEvery
	if every <= 0 {
		every = 1000
	}
	log.Info("file storage opened",
		logx.String("path", prefix),
		logx.Int("schedules", len(st.schedules)),
		logx.Int("enrollments", len(st.enrollments)),
		logx.Int("replayed", n),
	)
	return &fileStore{
		log:          log,
		st:           st,
		snapshotPath: snapPath,
		journalFile:  jf,
		compactEvery: every,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journalFile.Close(); err == nil {
		err = cerr
	}
	s.journalFile = nil
	return err
}

// appendLocked writes one journal record. The in-memory state is only
// changed after the record is on disk.
func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	s.writes++
	return nil
}

func (s *fileStore) maybeCompactLocked() {
	if s.writes%s.compactEvery != 0 {
		return
	}
	// Best-effort compact; the journal still has everything.
	if err := s.compactLocked(); err != nil {
		s.log.Warn("journal compact failed", logx.Err(err))
	}
}

func (s *fileStore) FindScheduleByName(ctx context.Context, name string) (*schedule.Schedule, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.journalFile == nil {
		return nil, false, ErrClosed
	}
	sc, ok := s.st.schedules[name]
	return sc, ok, nil
}

func (s *fileStore) SaveSchedule(ctx context.Context, sc *schedule.Schedule) error {
	_ = ctx
	raw, err := schedule.Marshal(sc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opSchedulePut, Name: sc.Name(), Schedule: raw}); err != nil {
		return err
	}
	s.st.schedules[sc.Name()] = sc
	s.maybeCompactLocked()
	return nil
}

func (s *fileStore) DeleteSchedule(ctx context.Context, name string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return false, ErrClosed
	}
	if _, ok := s.st.schedules[name]; !ok {
		return false, nil
	}
	if err := s.appendLocked(journalRecord{Op: opScheduleDel, Name: name}); err != nil {
		return false, err
	}
	delete(s.st.schedules, name)
	s.maybeCompactLocked()
	return true, nil
}

func (s *fileStore) ListSchedules(ctx context.Context) ([]*schedule.Schedule, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.journalFile == nil {
		return nil, ErrClosed
	}
	return s.st.listSchedules(), nil
}

func (s *fileStore) FindActiveEnrollment(ctx context.Context, externalID, scheduleName string) (enrollment.Enrollment, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.journalFile == nil {
		return enrollment.Enrollment{}, false, ErrClosed
	}
	e, ok := s.st.findActive(externalID, scheduleName)
	return e, ok, nil
}

func (s *fileStore) CreateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.st.enrollments[e.ID]; exists {
		return enrollment.Enrollment{}, ErrConflict
	}
	next := e.Clone()
	next.Version = 1
	return s.putLocked(next)
}

func (s *fileStore) UpdateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.st.enrollments[e.ID]
	if !ok || cur.Version != e.Version {
		return enrollment.Enrollment{}, ErrConflict
	}
	next := e.Clone()
	next.Version++
	return s.putLocked(next)
}

func (s *fileStore) putLocked(e enrollment.Enrollment) (enrollment.Enrollment, error) {
	if err := s.appendLocked(journalRecord{Op: opEnrollmentPut, Enrollment: &e}); err != nil {
		return enrollment.Enrollment{}, err
	}
	s.st.put(e)
	s.maybeCompactLocked()
	return e.Clone(), nil
}

func (s *fileStore) SearchEnrollments(ctx context.Context, q enrollment.Query) ([]enrollment.Enrollment, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.journalFile == nil {
		return nil, ErrClosed
	}
	return s.st.search(q), nil
}

func (s *fileStore) compactLocked() error {
	snap := snapshot{Enrollments: make([]enrollment.Enrollment, 0, len(s.st.enrollments))}
	for _, sc := range s.st.listSchedules() {
		raw, err := schedule.Marshal(sc)
		if err != nil {
			return err
		}
		snap.Schedules = append(snap.Schedules, raw)
	}
	for _, e := range s.st.enrollments {
		snap.Enrollments = append(snap.Enrollments, e)
	}
	sortEnrollments(snap.Enrollments)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
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
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, raw := range snap.Schedules {
		sc, err := schedule.ParseDefinition(raw)
		if err != nil {
			return err
		}
		st.schedules[sc.Name()] = sc
	}
	for _, e := range snap.Enrollments {
		e.Metadata = enrollment.NewMetadata(e.Metadata)
		st.put(e)
	}
	return nil
}

// replayJournal applies journal records on top of the snapshot. A torn
// last line (crash mid-write) is skipped.
func replayJournal(path string, st *state, log logx.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			log.Warn("skipping unreadable journal line", logx.Err(err))
			continue
		}
		switch r.Op {
		case opSchedulePut:
			s, err := schedule.ParseDefinition(r.Schedule)
			if err != nil {
				log.Warn("skipping bad schedule record", logx.String("name", r.Name), logx.Err(err))
				continue
			}
			st.schedules[s.Name()] = s
		case opScheduleDel:
			delete(st.schedules, r.Name)
		case opEnrollmentPut:
			if r.Enrollment == nil || r.Enrollment.ID == "" {
				continue
			}
			e := *r.Enrollment
			e.Metadata = enrollment.NewMetadata(e.Metadata)
			st.put(e)
		default:
			continue
		}
		n++
	}
	return n, sc.Err()
}
