package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrCatalogUnreadable = errors.New("message catalog unreadable")
	ErrCheckpointWrite   = errors.New("queue checkpoint write failed")
)

// Pool hands out catalog messages in a shuffled rotation and checkpoints
// the unsent remainder after every pop.
type Pool struct {
	mu sync.Mutex

	catalog        []string
	checkpointPath string
	queue          []string
	rng            *rand.Rand
}

// NewPool loads the catalog and resumes from the checkpoint when one exists.
// A nil rng uses a randomly seeded source.
func NewPool(catalogPath, checkpointPath string, rng *rand.Rand) (*Pool, error) {
	catalog, err := LoadCatalog(catalogPath)
	if err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	p := &Pool{
		catalog:        catalog,
		checkpointPath: checkpointPath,
		rng:            rng,
	}
	p.queue = p.InitializeQueue(checkpointPath)
	queueRemaining.Set(float64(len(p.queue)))

	log.Info().
		Int("catalog", len(catalog)).
		Int("queue", len(p.queue)).
		Msg("message pool ready")
	return p, nil
}

// InitializeQueue returns the checkpointed queue if it is non-empty,
// otherwise a fresh permutation of the catalog. An empty path skips the
// checkpoint.
func (p *Pool) InitializeQueue(checkpointPath string) []string {
	if checkpointPath != "" {
		if queue := LoadCheckpoint(checkpointPath); len(queue) > 0 {
			return queue
		}
	}

	queue := make([]string, len(p.catalog))
	copy(queue, p.catalog)
	p.rng.Shuffle(len(queue), func(i, j int) {
		queue[i], queue[j] = queue[j], queue[i]
	})
	return queue
}

// Next pops the head of the rotation. An exhausted rotation is replaced by
// a fresh shuffle, never by the checkpoint. The popped message counts as
// consumed even when the checkpoint write fails.
func (p *Pool) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.queue) == 0 {
		p.queue = p.InitializeQueue("")
		log.Info().Int("size", len(p.queue)).Msg("rotation exhausted, reshuffled catalog")
	}

	message := p.queue[0]
	p.queue = p.queue[1:]
	queueRemaining.Set(float64(len(p.queue)))

	if err := SaveCheckpoint(p.queue, p.checkpointPath); err != nil {
		checkpointWriteFailures.Inc()
		log.Error().Err(err).Str("path", p.checkpointPath).Msg("failed to save queue state")
	}

	return message
}

func (p *Pool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) CatalogSize() int {
	return len(p.catalog)
}

// Snapshot copies the current rotation.
func (p *Pool) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.queue))
	copy(out, p.queue)
	return out
}

// LoadCatalog reads the message catalog. The file holds either a JSON array
// of strings or an object whose values are strings; object values keep
// their document order. Blank entries are dropped.
func LoadCatalog(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnreadable, err)
	}

	messages, err := parseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCatalogUnreadable, path, err)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: %s: no messages", ErrCatalogUnreadable, path)
	}
	return messages, nil
}

func parseCatalog(data []byte) ([]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var raw []string
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	case '{':
		dec := json.NewDecoder(bytes.NewReader(data))
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			var v string
			if err := dec.Decode(&v); err != nil {
				return nil, err
			}
			raw = append(raw, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		if _, err := dec.Token(); err != io.EOF {
			return nil, errors.New("trailing data after catalog object")
		}
	default:
		return nil, errors.New("catalog must be a JSON array or object")
	}

	messages := raw[:0]
	for _, m := range raw {
		if strings.TrimSpace(m) != "" {
			messages = append(messages, m)
		}
	}
	return messages, nil
}

// LoadCheckpoint returns the saved queue, or nil when the file is missing
// or does not hold a JSON array of strings.
func LoadCheckpoint(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("queue checkpoint unreadable")
		}
		return nil
	}

	var queue []string
	if err := json.Unmarshal(data, &queue); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("queue checkpoint corrupt, ignoring")
		return nil
	}
	return queue
}

// SaveCheckpoint writes the queue through a temp file and rename so a crash
// never leaves a half-written checkpoint behind.
func SaveCheckpoint(queue []string, path string) error {
	if queue == nil {
		queue = []string{}
	}
	data, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointWrite, err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointWrite, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %v", ErrCheckpointWrite, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %v", ErrCheckpointWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: %v", ErrCheckpointWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointWrite, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointWrite, err)
	}
	return nil
}
