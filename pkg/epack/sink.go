package epack

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrNotFound is returned when a session has no stored records.
var ErrNotFound = errors.New("epack: session not found")

// Sink is durable storage for sealed records. Append-only; records are
// never updated in place.
type Sink interface {
	Append(ctx context.Context, sessionID string, rec Record) error
	Records(ctx context.Context, sessionID string) ([]Record, error)
	LastSeq(ctx context.Context, sessionID string) (int, error)
}

// MemorySink keeps chains in memory, for tests and ephemeral deployments.
type MemorySink struct {
	mu     sync.RWMutex
	chains map[string][]Record
}

func NewMemorySink() *MemorySink {
	return &MemorySink{chains: make(map[string][]Record)}
}

func (m *MemorySink) Append(ctx context.Context, sessionID string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[sessionID] = append(m.chains[sessionID], rec)
	return nil
}

func (m *MemorySink) Records(ctx context.Context, sessionID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain, ok := m.chains[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]Record, len(chain))
	copy(out, chain)
	return out, nil
}

func (m *MemorySink) LastSeq(ctx context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chain := m.chains[sessionID]
	if len(chain) == 0 {
		return 0, nil
	}
	return chain[len(chain)-1].Seq, nil
}

// FileSink appends records as JSON lines to a single file. Each line carries
// the session id alongside the record so chains for many sessions can share
// one file.
type FileSink struct {
	mu   sync.Mutex
	path string
}

func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

type fileLine struct {
	SessionID string `json:"session_id"`
	Record    Record `json:"record"`
}

func (f *FileSink) Append(ctx context.Context, sessionID string, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("epack: open sink: %w", err)
	}
	defer func() { _ = fh.Close() }()

	line, err := json.Marshal(fileLine{SessionID: sessionID, Record: rec})
	if err != nil {
		return err
	}
	if _, err := fh.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("epack: append record: %w", err)
	}
	return fh.Sync()
}

func (f *FileSink) Records(ctx context.Context, sessionID string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer func() { _ = fh.Close() }()

	var out []Record
	sc := bufio.NewScanner(fh)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var ln fileLine
		if err := json.Unmarshal(sc.Bytes(), &ln); err != nil {
			return nil, fmt.Errorf("epack: corrupt sink line: %w", err)
		}
		if ln.SessionID == sessionID {
			out = append(out, ln.Record)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (f *FileSink) LastSeq(ctx context.Context, sessionID string) (int, error) {
	recs, err := f.Records(ctx, sessionID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return recs[len(recs)-1].Seq, nil
}
