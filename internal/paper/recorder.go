package paper

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// JSONLRecorder appends fills as JSON lines. The same file restores the
// account on the next run, so paper positions survive between invocations.
type JSONLRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	err  error
}

// NewJSONLRecorder creates/opens the target file and returns a recorder.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLRecorder{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Record writes a single fill to the underlying JSONL file. The first write
// error is kept and reported by Close.
func (r *JSONLRecorder) Record(fill Fill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	if err := r.enc.Encode(fill); err != nil && r.err == nil {
		r.err = err
	}
}

// Close flushes and closes the file handle.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return r.err
	}
	err := errors.Join(r.err, r.file.Close())
	r.file = nil
	return err
}

// LoadFills reads every fill from a JSONL file. A missing file yields no fills.
func LoadFills(path string) ([]Fill, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open fills: %w", err)
	}
	defer file.Close()

	var fills []Fill
	scanner := bufio.NewScanner(file)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var f Fill
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			return nil, fmt.Errorf("fills line %d: %w", line, err)
		}
		fills = append(fills, f)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read fills: %w", err)
	}
	return fills, nil
}

// Restore replays the fills stored at path into the account.
func Restore(acct *Account, path string) (int, error) {
	fills, err := LoadFills(path)
	if err != nil {
		return 0, err
	}
	for i, f := range fills {
		if err := acct.Apply(f); err != nil {
			return i, fmt.Errorf("replay fill %s: %w", f.OrderID, err)
		}
	}
	return len(fills), nil
}
