package feedback

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/plantsage/backend/pkg/logger"
)

// Judgment is a user's verdict on an answer.
type Judgment string

const (
	Correct   Judgment = "correct"
	Incorrect Judgment = "incorrect"
)

func (j Judgment) Valid() bool {
	return j == Correct || j == Incorrect
}

// Record is one line of the feedback log.
type Record struct {
	ID           string   `json:"id"`
	Timestamp    string   `json:"timestamp"`
	Question     string   `json:"question"`
	Answer       string   `json:"answer"`
	Feedback     Judgment `json:"feedback"`
	Comment      string   `json:"comment"`
	UsedChunkIDs []string `json:"used_chunk_ids"`
}

// Log persists feedback records. Appends must be safe for concurrent use.
type Log interface {
	Append(ctx context.Context, r Record) error
}

// JSONLLog appends records as newline-delimited JSON. Each record is written
// with a single write call so a crash never leaves a half record followed by
// a valid one.
type JSONLLog struct {
	mu    sync.Mutex
	f     *os.File
	fsync bool
}

func OpenJSONL(path string, fsync bool) (*JSONLLog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create feedback log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open feedback log: %w", err)
	}
	return &JSONLLog{f: f, fsync: fsync}, nil
}

func (l *JSONLLog) Append(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode feedback record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(line); err != nil {
		return fmt.Errorf("append feedback record: %w", err)
	}
	if l.fsync {
		if err := l.f.Sync(); err != nil {
			return fmt.Errorf("sync feedback log: %w", err)
		}
	}
	return nil
}

func (l *JSONLLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// ReadAll loads every parseable record from path. Lines that fail to decode
// are skipped and logged. A missing file yields no records.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open feedback log: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(b, &rec); err != nil {
			logger.Warn("Skipping corrupt feedback line", zap.Int("line", line), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read feedback log: %w", err)
	}
	return out, nil
}
