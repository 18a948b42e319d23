package coordinator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dreamware/tally/internal/cluster"
)

// ReadError reports that the input could not be read. No chunk of the job
// survives a ReadError.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read input %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// SplitInput publishes the file at path as chunks of at most chunkSize
// lines and returns the chunk count. See Split.
func (c *Coordinator) SplitInput(ctx context.Context, path string, chunkSize int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		rerr := &ReadError{Path: path, Err: err}
		c.fail(ctx, rerr)
		return 0, rerr
	}
	defer f.Close()

	c.log.Info("reading input file %s", path)
	return c.split(ctx, f, path, chunkSize)
}

// Split partitions the lines read from r into consecutive chunks of at most
// chunkSize lines. Chunk ids start at 0 and increase by one. Each chunk's
// content is written before its id is pushed onto the pending queue.
//
// Lines are trimmed of surrounding whitespace. An empty input produces zero
// chunks and no store writes. On a read or store failure every chunk
// published so far is removed and the job is Failed.
func (c *Coordinator) Split(ctx context.Context, r io.Reader, chunkSize int) (int, error) {
	return c.split(ctx, r, "<reader>", chunkSize)
}

func (c *Coordinator) split(ctx context.Context, r io.Reader, name string, chunkSize int) (int, error) {
	if chunkSize < 1 {
		return 0, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if err := c.transition(ctx, StateSplitting); err != nil {
		return 0, err
	}

	reader := bufio.NewReader(r)

	nextID := 0
	current := make([]string, 0, chunkSize)
	flush := func() error {
		if err := c.storeChunk(ctx, nextID, current); err != nil {
			return err
		}
		nextID++
		current = current[:0]
		return nil
	}

	for {
		// Lines have no length limit; the last one may lack a newline
		line, err := reader.ReadString('\n')
		if line != "" {
			current = append(current, strings.TrimSpace(line))
			if len(current) >= chunkSize {
				if ferr := flush(); ferr != nil {
					return 0, c.abortSplit(ctx, ferr)
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, c.abortSplit(ctx, &ReadError{Path: name, Err: err})
		}
	}
	if len(current) > 0 {
		if err := flush(); err != nil {
			return 0, c.abortSplit(ctx, err)
		}
	}

	c.mu.Lock()
	c.job.Chunks = nextID
	c.mu.Unlock()

	if nextID == 0 {
		c.log.Info("input has no lines, nothing to do")
		if err := c.transition(ctx, StateDone); err != nil {
			return 0, err
		}
		return 0, nil
	}

	c.log.Info("split input into %d chunks", nextID)
	if err := c.transition(ctx, StateDispatched); err != nil {
		return 0, err
	}
	return nextID, nil
}

// storeChunk writes the chunk content, then makes it claimable.
func (c *Coordinator) storeChunk(ctx context.Context, id int, lines []string) error {
	if err := c.store.Put(ctx, cluster.ChunkKey(id), []byte(strings.Join(lines, "\n"))); err != nil {
		return fmt.Errorf("store chunk %d: %w", id, err)
	}
	if err := c.store.LPush(ctx, cluster.PendingQueue, strconv.Itoa(id)); err != nil {
		return fmt.Errorf("queue chunk %d: %w", id, err)
	}
	c.log.Debug("stored chunk %d (%d lines)", id, len(lines))
	return nil
}

// abortSplit removes whatever was published and fails the job with err.
func (c *Coordinator) abortSplit(ctx context.Context, err error) error {
	c.log.Error("split failed: %v", err)
	if cerr := c.clearKeys(ctx); cerr != nil {
		c.log.Error("cleanup after failed split: %v", cerr)
	}
	c.fail(ctx, err)
	return err
}
