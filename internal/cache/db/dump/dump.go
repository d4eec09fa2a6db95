// Package dump writes and restores zstd-compressed snapshots of a KV store.
//
// A snapshot is a header describing the store geometry followed by one framed
// record per entry: [len uint32][crc32 uint32][payload]. Records keep their score
// and last-referenced step, so a restored store evicts exactly as the original would.
package dump

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/Borislavv/go-ash-speculate/config"
	"github.com/Borislavv/go-ash-speculate/internal/cache/db"
	"github.com/Borislavv/go-ash-speculate/internal/cache/db/model"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"
)

const (
	magic   uint32 = 0x41534b56 // "ASKV"
	version uint32 = 1

	bufSize   = 512 * 1024
	maxLayers = 1 << 12
)

var (
	ErrBadHeader      = errors.New("bad snapshot header")
	ErrCorrupted      = errors.New("corrupted snapshot record")
	errDumpNotEnabled = errors.New("persistence is not enabled")
)

// Dump writes store to cfg.Path through a temporary file renamed on success.
func Dump(ctx context.Context, cfg *config.PersistenceCfg, store *db.Store) error {
	if !cfg.Enabled() {
		return errDumpNotEnabled
	}
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return fmt.Errorf("create dump dir: %w", err)
	}
	tmp := cfg.Path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	written, err := Write(ctx, f, store, cfg.Level)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err = os.Rename(tmp, cfg.Path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}

	log.Info().
		Str("path", cfg.Path).
		Int64("written", written).
		Str("elapsed", time.Since(start).String()).
		Msg("dumping finished")
	return nil
}

// Load restores the snapshot at path.
func Load(ctx context.Context, path string) (*db.Store, error) {
	start := time.Now()
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	store, restored, err := Read(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	log.Info().
		Str("path", path).
		Int64("restored", restored).
		Str("elapsed", time.Since(start).String()).
		Msg("restoring dump")
	return store, nil
}

// Write encodes store to w. Level follows zstd encoder levels, 1 fastest to 4 best;
// anything else uses the default level.
func Write(ctx context.Context, w io.Writer, store *db.Store, level int) (written int64, err error) {
	lvl := zstd.EncoderLevel(level)
	if lvl < zstd.SpeedFastest || lvl > zstd.SpeedBestCompression {
		lvl = zstd.SpeedDefault
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(lvl))
	if err != nil {
		return 0, fmt.Errorf("create zstd encoder: %w", err)
	}
	bw := bufio.NewWriterSize(enc, bufSize)

	if err = writeHeader(bw, store); err != nil {
		enc.Close()
		return 0, err
	}

	dim := store.Dim()
	payload := make([]byte, recordSize(dim))
	var meta [8]byte
	store.WalkLayers(ctx, func(layer *db.Layer) {
		layer.Walk(ctx, func(e *model.Entry) bool {
			if err != nil {
				return false
			}
			if len(e.Key()) != dim || len(e.Value()) != dim {
				err = fmt.Errorf("%w: layer %d position %d has dim %d/%d, store dim %d",
					ErrCorrupted, layer.ID(), e.Pos(), len(e.Key()), len(e.Value()), dim)
				return false
			}
			encodeEntry(payload, layer.ID(), e)
			binary.LittleEndian.PutUint32(meta[0:4], uint32(len(payload)))
			binary.LittleEndian.PutUint32(meta[4:8], crc32.ChecksumIEEE(payload))
			if _, err = bw.Write(meta[:]); err != nil {
				return false
			}
			if _, err = bw.Write(payload); err != nil {
				return false
			}
			written++
			return true
		})
	})
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = bw.Flush()
	}
	if cerr := enc.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return written, fmt.Errorf("write snapshot: %w", err)
	}
	return written, nil
}

// Read decodes a snapshot written by Write. A record failing its checksum aborts
// the restore with ErrCorrupted.
func Read(ctx context.Context, r io.Reader) (store *db.Store, restored int64, err error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, 0, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()
	br := bufio.NewReaderSize(dec, bufSize)

	if store, err = readHeader(br); err != nil {
		return nil, 0, err
	}

	dim := store.Dim()
	var meta [8]byte
	for {
		if err = ctx.Err(); err != nil {
			return nil, restored, err
		}
		if _, err = io.ReadFull(br, meta[:]); err == io.EOF {
			return store, restored, nil
		} else if err != nil {
			return nil, restored, fmt.Errorf("read record meta: %w", err)
		}

		size := binary.LittleEndian.Uint32(meta[0:4])
		if int(size) != recordSize(dim) {
			return nil, restored, fmt.Errorf("%w: record %d has size %d", ErrCorrupted, restored, size)
		}
		buf := make([]byte, size)
		if _, err = io.ReadFull(br, buf); err != nil {
			return nil, restored, fmt.Errorf("read record %d: %w", restored, err)
		}
		if crc32.ChecksumIEEE(buf) != binary.LittleEndian.Uint32(meta[4:8]) {
			return nil, restored, fmt.Errorf("%w: record %d crc mismatch", ErrCorrupted, restored)
		}

		layer, e := decodeEntry(buf, dim)
		if layer < 0 || layer >= store.NumLayers() {
			return nil, restored, fmt.Errorf("%w: record %d references layer %d", ErrCorrupted, restored, layer)
		}
		if err = store.Append(layer, e); err != nil {
			return nil, restored, err
		}
		restored++
	}
}

func writeHeader(w io.Writer, store *db.Store) error {
	n := store.NumLayers()
	hdr := make([]uint32, 0, 5+n)
	hdr = append(hdr, magic, version, uint32(store.Dim()), uint32(headroom(store)), uint32(n))
	for i := 0; i < n; i++ {
		hdr = append(hdr, uint32(store.Layer(i).Budget()))
	}
	if err := binary.Write(w, binary.LittleEndian, hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

func readHeader(r io.Reader) (*db.Store, error) {
	var fixed [5]uint32
	if err := binary.Read(r, binary.LittleEndian, &fixed); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}
	if fixed[0] != magic || fixed[1] != version {
		return nil, fmt.Errorf("%w: magic %#x version %d", ErrBadHeader, fixed[0], fixed[1])
	}
	if fixed[4] > maxLayers {
		return nil, fmt.Errorf("%w: %d layers", ErrBadHeader, fixed[4])
	}
	budgets := make([]uint32, fixed[4])
	if err := binary.Read(r, binary.LittleEndian, budgets); err != nil {
		return nil, fmt.Errorf("%w: budgets: %w", ErrBadHeader, err)
	}
	bs := make([]int, len(budgets))
	for i, b := range budgets {
		bs[i] = int(b)
	}
	return db.NewStore(bs, int(fixed[3]), int(fixed[2])), nil
}

func headroom(store *db.Store) int {
	if store.NumLayers() == 0 {
		return 0
	}
	l := store.Layer(0)
	return l.Capacity() - l.Budget()
}

// recordSize is layer, pos, score, lastRef, then key and value.
func recordSize(dim int) int { return 4 + 4 + 8 + 8 + 2*8*dim }

func encodeEntry(buf []byte, layer int, e *model.Entry) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(layer))
	binary.LittleEndian.PutUint32(buf[4:], uint32(e.Pos()))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(e.Score()))
	binary.LittleEndian.PutUint64(buf[16:], e.LastRef())
	off := 24
	for _, vec := range [][]float64{e.Key(), e.Value()} {
		for _, v := range vec {
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(v))
			off += 8
		}
	}
}

func decodeEntry(buf []byte, dim int) (layer int, e *model.Entry) {
	layer = int(int32(binary.LittleEndian.Uint32(buf[0:])))
	pos := int32(binary.LittleEndian.Uint32(buf[4:]))
	score := math.Float64frombits(binary.LittleEndian.Uint64(buf[8:]))
	lastRef := binary.LittleEndian.Uint64(buf[16:])

	key, value := make([]float64, dim), make([]float64, dim)
	off := 24
	for _, vec := range [][]float64{key, value} {
		for i := range vec {
			vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[off:]))
			off += 8
		}
	}
	e = model.NewEntry(pos, key, value)
	e.Restore(score, lastRef)
	return layer, e
}
