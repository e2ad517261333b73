// Package rewriter implements the reference Rewriter: a capability record
// of rewrite/commit/abort methods that is the only component in this module
// touching actual file bytes. The planner and orchestrator never read or
// write Parquet; they only move ScanTask descriptors around.
//
// Publish is temp-key-then-finalize: write to a temp key, then on Commit
// copy each temp key to its final key and delete the temp, rolling back
// already-finalized keys if a later one in the same batch fails. Object
// stores have no rename, so finalize is a copy followed by a delete.
package rewriter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/withObsrvr/obsrvr-table-compactor/internal/metrics"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/planner"
	"github.com/withObsrvr/obsrvr-table-compactor/internal/zorder"
)

// ColumnKind selects which zorder.Encode* function a SortColumn uses.
type ColumnKind int

const (
	KindInt32 ColumnKind = iota
	KindInt64
	KindFloat32
	KindFloat64
	KindString
)

// SortColumn names one column folded into the Z-order sort key, in the
// fixed order the caller wants the composite key built from.
type SortColumn struct {
	Name  string
	Kind  ColumnKind
	Width int // string columns only; zorder.DefaultStringWidth if zero
}

// Config configures a ParquetRewriter.
type Config struct {
	BucketURL string // gocloud.dev/blob bucket URL for both input and output
	Prefix    string // key prefix new output files are written under

	// Planner is the same normalized planner.Config the strategy planned
	// groups with. Rewrite derives each group's split size from it via
	// planner.SplitSize(group total size, Planner), rather than a single
	// fixed size, since TargetFileSize/MaxFileSize bound a ratio, not an
	// absolute byte count shared by every group.
	Planner planner.Config

	// ZOrderColumns, when non-empty, enables Z-order sorting of rows before
	// they are split across output files.
	ZOrderColumns []SortColumn
}

type pendingObject struct {
	tempKey  string
	finalKey string
	bytes    int64
}

// countingWriter tees writes through to an underlying io.Writer while
// tallying the total bytes written, so writeChunk can report a new file's
// size without a second read of the object store.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type groupState struct {
	writes  []pendingObject
	removed []string // input keys to delete once the rewrite commits
}

// ParquetRewriter implements orchestrator.Rewriter against Parquet files
// addressed through a gocloud.dev/blob bucket. Metrics is optional and
// nil-safe, set by the caller after construction like
// orchestrator.Orchestrator's own side-channel fields.
type ParquetRewriter struct {
	bucket  *blob.Bucket
	cfg     Config
	Metrics *metrics.Metrics

	mu     sync.Mutex
	groups map[string]*groupState
}

// NewParquetRewriter opens cfg.BucketURL and returns a ready ParquetRewriter.
func NewParquetRewriter(ctx context.Context, cfg Config) (*ParquetRewriter, error) {
	bucket, err := blob.OpenBucket(ctx, cfg.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("rewriter: open bucket %s: %w", cfg.BucketURL, err)
	}
	return newParquetRewriterWithBucket(bucket, cfg), nil
}

func newParquetRewriterWithBucket(bucket *blob.Bucket, cfg Config) *ParquetRewriter {
	return &ParquetRewriter{
		bucket: bucket,
		cfg:    cfg,
		groups: make(map[string]*groupState),
	}
}

// Close releases the underlying bucket connection.
func (r *ParquetRewriter) Close() error {
	if r.bucket != nil {
		return r.bucket.Close()
	}
	return nil
}

// incRewriteError is a no-op when Metrics is nil, matching the package's
// other optional side channels.
func (r *ParquetRewriter) incRewriteError(tasks []planner.ScanTask) {
	if r.Metrics == nil {
		return
	}
	var partition string
	if len(tasks) > 0 {
		partition = tasks[0].Partition
	}
	r.Metrics.IncRewriteErrors(metrics.Labels{Partition: partition})
}

// Rewrite reads every task's Parquet file, optionally Z-order sorts the
// combined rows, and writes one or more new Parquet files under a temporary
// key, sized by planner.SplitSize over cfg.Planner. The new files are not visible at their final
// location until Commit is called for this groupID.
func (r *ParquetRewriter) Rewrite(ctx context.Context, groupID string, tasks []planner.ScanTask) (planner.FileGroupResult, error) {
	rows, schema, err := r.readAll(ctx, tasks)
	if err != nil {
		r.incRewriteError(tasks)
		return planner.FileGroupResult{}, fmt.Errorf("rewriter: read group %s: %w", groupID, err)
	}

	if len(r.cfg.ZOrderColumns) > 0 {
		if err := sortByZOrderKey(rows, schema, r.cfg.ZOrderColumns); err != nil {
			r.incRewriteError(tasks)
			return planner.FileGroupResult{}, fmt.Errorf("rewriter: sort group %s: %w", groupID, err)
		}
	}

	inputBytes := totalLength(tasks)
	chunks := splitRows(rows, inputBytes, planner.SplitSize(inputBytes, r.cfg.Planner))

	writes := make([]pendingObject, 0, len(chunks))
	var outputBytes int64
	for _, chunk := range chunks {
		tempKey, finalKey, n, err := r.writeChunk(ctx, groupID, schema, chunk)
		if err != nil {
			r.incRewriteError(tasks)
			r.abortWrites(ctx, writes)
			return planner.FileGroupResult{}, fmt.Errorf("rewriter: write group %s: %w", groupID, err)
		}
		writes = append(writes, pendingObject{tempKey: tempKey, finalKey: finalKey, bytes: n})
		outputBytes += n
	}

	removed := make([]string, len(tasks))
	for i, t := range tasks {
		removed[i] = t.Path
	}

	r.mu.Lock()
	r.groups[groupID] = &groupState{writes: writes, removed: removed}
	r.mu.Unlock()

	return planner.FileGroupResult{
		AddedFilesCount:     len(writes),
		RewrittenFilesCount: len(tasks),
		OutputBytes:         outputBytes,
	}, nil
}

// Commit finalizes every written temp object for groupIDs into its
// canonical location and deletes the input files each group replaced. If
// any object fails to finalize, the objects already finalized in this call
// are best-effort rolled back and the error is returned. Commit is atomic
// over this one call's batch, not across separate Commit calls: the
// orchestrator never splits a single logical commit across two calls.
func (r *ParquetRewriter) Commit(ctx context.Context, groupIDs []string) error {
	var finalized []string
	var committed []string
	var states []*groupState
	for _, groupID := range groupIDs {
		r.mu.Lock()
		state, ok := r.groups[groupID]
		r.mu.Unlock()
		if !ok {
			continue
		}

		for _, w := range state.writes {
			if err := r.copyObject(ctx, w.tempKey, w.finalKey); err != nil {
				for _, k := range finalized {
					_ = r.bucket.Delete(ctx, k)
				}
				return fmt.Errorf("rewriter: commit %s: finalize %s: %w", groupID, w.finalKey, err)
			}
			finalized = append(finalized, w.finalKey)
		}
		committed = append(committed, groupID)
		states = append(states, state)
	}

	for i, state := range states {
		for _, w := range state.writes {
			_ = r.bucket.Delete(ctx, w.tempKey)
		}
		for _, key := range state.removed {
			_ = r.bucket.Delete(ctx, key)
		}

		r.mu.Lock()
		delete(r.groups, committed[i])
		r.mu.Unlock()
	}
	return nil
}

// Abort removes groupID's temp objects without publishing them. Idempotent:
// a group with no pending state (already committed, or never rewritten) is
// not an error.
func (r *ParquetRewriter) Abort(ctx context.Context, groupID string) error {
	r.mu.Lock()
	state, ok := r.groups[groupID]
	delete(r.groups, groupID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	r.abortWrites(ctx, state.writes)
	return nil
}

// abortWrites deletes temp objects on a best-effort basis: every delete
// error is ignored, including "not found" for a temp object that was never
// finalized by the bucket driver or was already cleaned up by a prior abort
// attempt.
func (r *ParquetRewriter) abortWrites(ctx context.Context, writes []pendingObject) {
	for _, w := range writes {
		if err := r.bucket.Delete(ctx, w.tempKey); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			_ = err
		}
	}
}

func (r *ParquetRewriter) readAll(ctx context.Context, tasks []planner.ScanTask) ([]parquet.Row, *parquet.Schema, error) {
	var (
		rows   []parquet.Row
		schema *parquet.Schema
	)

	for _, t := range tasks {
		reader, err := r.bucket.NewReader(ctx, t.Path, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", t.Path, err)
		}
		data, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", t.Path, err)
		}

		pf, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			return nil, nil, fmt.Errorf("open parquet %s: %w", t.Path, err)
		}
		if schema == nil {
			schema = pf.Schema()
		}

		fileRows, err := readRows(pf, schema)
		if err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", t.Path, err)
		}
		rows = append(rows, fileRows...)
	}

	return rows, schema, nil
}

func readRows(pf *parquet.File, schema *parquet.Schema) ([]parquet.Row, error) {
	reader := parquet.NewReader(pf, schema)
	defer reader.Close()

	var rows []parquet.Row
	for {
		buf := []parquet.Row{make(parquet.Row, 0, len(schema.Columns()))}
		n, err := reader.ReadRows(buf)
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return nil, err
		}
		if n > 0 {
			rows = append(rows, buf[0])
		}
		if eof {
			break
		}
	}
	return rows, nil
}

func (r *ParquetRewriter) writeChunk(ctx context.Context, groupID string, schema *parquet.Schema, chunk []parquet.Row) (tempKey, finalKey string, bytesWritten int64, err error) {
	id := uuid.NewString()
	finalKey = fmt.Sprintf("%s%s/part-%s.parquet", r.cfg.Prefix, groupID, id)
	tempKey = finalKey + ".tmp." + id

	w, err := r.bucket.NewWriter(ctx, tempKey, nil)
	if err != nil {
		return "", "", 0, fmt.Errorf("create writer for %s: %w", tempKey, err)
	}
	cw := &countingWriter{w: w}

	pw := parquet.NewWriter(cw, schema)
	if _, err := pw.WriteRows(chunk); err != nil {
		pw.Close()
		w.Close()
		return "", "", 0, fmt.Errorf("write rows to %s: %w", tempKey, err)
	}
	if err := pw.Close(); err != nil {
		w.Close()
		return "", "", 0, fmt.Errorf("close parquet writer for %s: %w", tempKey, err)
	}
	if err := w.Close(); err != nil {
		return "", "", 0, fmt.Errorf("close blob writer for %s: %w", tempKey, err)
	}

	return tempKey, finalKey, cw.n, nil
}

func (r *ParquetRewriter) copyObject(ctx context.Context, srcKey, dstKey string) error {
	reader, err := r.bucket.NewReader(ctx, srcKey, nil)
	if err != nil {
		return fmt.Errorf("open source %s: %w", srcKey, err)
	}
	defer reader.Close()

	w, err := r.bucket.NewWriter(ctx, dstKey, nil)
	if err != nil {
		return fmt.Errorf("create destination %s: %w", dstKey, err)
	}
	if _, err := io.Copy(w, reader); err != nil {
		w.Close()
		return fmt.Errorf("copy to %s: %w", dstKey, err)
	}
	return w.Close()
}

func totalLength(tasks []planner.ScanTask) int64 {
	var total int64
	for _, t := range tasks {
		total += t.Length
	}
	return total
}

// splitRows divides rows into contiguous chunks, preserving order, so each
// chunk's estimated on-disk size is close to splitSize. Estimation uses the
// combined input byte size rather than re-measuring the sorted rows, which
// is the same approximation the planner's own NumOutputFiles/SplitSize make
// over uncompressed input length.
func splitRows(rows []parquet.Row, totalInputBytes, splitSize int64) [][]parquet.Row {
	if len(rows) == 0 {
		return nil
	}
	if splitSize <= 0 || totalInputBytes <= splitSize {
		return [][]parquet.Row{rows}
	}

	numFiles := int(totalInputBytes / splitSize)
	if totalInputBytes%splitSize != 0 {
		numFiles++
	}
	if numFiles < 1 {
		numFiles = 1
	}
	if numFiles > len(rows) {
		numFiles = len(rows)
	}

	chunkLen := len(rows) / numFiles
	remainder := len(rows) % numFiles

	chunks := make([][]parquet.Row, 0, numFiles)
	start := 0
	for i := 0; i < numFiles; i++ {
		size := chunkLen
		if i < remainder {
			size++
		}
		chunks = append(chunks, rows[start:start+size])
		start += size
	}
	return chunks
}

// sortByZOrderKey computes a composite Z-order key per row (each column
// encoded with its ordered-byte codec, then interleaved) and sorts rows by
// the unsigned lexicographic order of that key. The planner never calls
// this; only the reference rewriter does, keeping the codec's pure bit
// math separate from the rewriter that applies it to real rows.
func sortByZOrderKey(rows []parquet.Row, schema *parquet.Schema, cols []SortColumn) error {
	indexes := make([]int, len(cols))
	for i, c := range cols {
		idx, err := columnIndex(schema, c.Name)
		if err != nil {
			return err
		}
		indexes[i] = idx
	}

	keys := make([][]byte, len(rows))
	for i, row := range rows {
		encoded := make([][]byte, len(cols))
		for j, c := range cols {
			v := row[indexes[j]]
			encoded[j] = encodeValue(v, c)
		}
		keys[i] = zorder.InterleaveBits(encoded)
	}

	order := make([]int, len(rows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return bytes.Compare(keys[order[a]], keys[order[b]]) < 0
	})

	sorted := make([]parquet.Row, len(rows))
	for i, idx := range order {
		sorted[i] = rows[idx]
	}
	copy(rows, sorted)
	return nil
}

func encodeValue(v parquet.Value, c SortColumn) []byte {
	switch c.Kind {
	case KindInt32:
		return zorder.EncodeInt32(v.Int32())
	case KindInt64:
		return zorder.EncodeInt64(v.Int64())
	case KindFloat32:
		return zorder.EncodeFloat32(v.Float())
	case KindFloat64:
		return zorder.EncodeFloat64(v.Double())
	case KindString:
		width := c.Width
		if width == 0 {
			width = zorder.DefaultStringWidth
		}
		return zorder.EncodeString(v.String(), width)
	default:
		return nil
	}
}

// columnIndex finds the leaf column named name in a flat (non-nested)
// schema, returning its index into a parquet.Row. Z-order sorting is only
// meaningful over scalar columns, so nested schemas are not supported.
func columnIndex(schema *parquet.Schema, name string) (int, error) {
	for i, path := range schema.Columns() {
		if len(path) == 1 && path[0] == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("rewriter: column %q not found in schema", name)
}
