package storage

import (
	"bufio"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/log"
	"github.com/cuemby/strata/pkg/metrics"
)

// Durability selects the append path and crash guarantee for a WAL
// (spec.md §4.3).
type Durability int

const (
	DurabilityInMemory Durability = iota
	DurabilityBuffered
	DurabilityStrict
)

func (d Durability) String() string {
	switch d {
	case DurabilityInMemory:
		return "in_memory"
	case DurabilityBuffered:
		return "buffered"
	case DurabilityStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// DefaultSegmentSize is the rollover boundary used when Options doesn't
// override it.
const DefaultSegmentSize int64 = 64 << 20

// flusherInterval is how often the Buffered mode's background flusher
// syncs the active segment absent an explicit signal.
const flusherInterval = 200 * time.Millisecond

// WAL is the write-ahead log: a sequence of segment files under dir, a
// single active segment appended to in order, and (in Buffered mode) one
// owned background flusher goroutine.
type WAL struct {
	dir        string
	durability Durability
	segLimit   int64
	logger     zerolog.Logger

	mu       sync.Mutex
	file     *os.File
	bufw     *bufio.Writer
	active   uint32
	size     int64
	ringTail [][]byte // InMemory mode only: most recent frames, capped

	onRollover func(newSegment uint32)

	flushSignal chan struct{}
	stop        chan struct{}
	done        chan struct{}
}

const ringCap = 256

// OpenWAL opens (or creates) the WAL rooted at dir, resuming at the
// highest-numbered existing segment. When the directory has no segments it
// creates startSegment (the manifest's recorded active segment), or
// segment 0 if startSegment is nil.
func OpenWAL(dir string, durability Durability, segLimit int64, startSegment *uint32, onRollover func(uint32)) (*WAL, error) {
	w := &WAL{
		dir:         dir,
		durability:  durability,
		segLimit:    segLimit,
		logger:      log.WithComponent("wal"),
		onRollover:  onRollover,
		flushSignal: make(chan struct{}, 1),
	}
	if durability == DurabilityInMemory {
		return w, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.IO, "storage.OpenWAL", "creating wal directory", err)
	}
	segments, err := listSegments(dir)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "storage.OpenWAL", "listing wal segments", err)
	}
	var number uint32
	var f *os.File
	switch {
	case len(segments) == 0:
		number = 0
		if startSegment != nil {
			number = *startSegment
		}
		f, err = createSegment(dir, number)
	default:
		number = segments[len(segments)-1]
		f, err = os.OpenFile(segmentPath(dir, number), os.O_RDWR, 0o644)
	}
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IO, "storage.OpenWAL", "stat segment", err)
	}
	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IO, "storage.OpenWAL", "seek segment end", err)
	}
	w.file = f
	w.active = number
	w.size = info.Size()
	w.bufw = bufio.NewWriter(f)

	if durability == DurabilityBuffered {
		w.stop = make(chan struct{})
		w.done = make(chan struct{})
		go w.flushLoop()
	}
	return w, nil
}

func (w *WAL) flushLoop() {
	defer close(w.done)
	ticker := time.NewTicker(flusherInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			w.mu.Lock()
			w.flushAndSync()
			w.mu.Unlock()
			return
		case <-ticker.C:
			w.mu.Lock()
			w.flushAndSync()
			w.mu.Unlock()
		case <-w.flushSignal:
			w.mu.Lock()
			w.flushAndSync()
			w.mu.Unlock()
		}
	}
}

// flushAndSync must be called with w.mu held.
func (w *WAL) flushAndSync() {
	if w.bufw == nil {
		return
	}
	if err := w.bufw.Flush(); err != nil {
		w.logger.Error().Err(err).Msg("wal flush failed")
		return
	}
	if err := w.file.Sync(); err != nil {
		w.logger.Error().Err(err).Msg("wal fsync failed")
	}
}

// Append writes rec's framed payload per the configured durability mode,
// rolling over to a new segment once the active one reaches the size
// limit.
func (w *WAL) Append(rec Record) error {
	payload := encodeRecordPayload(rec)

	if w.durability == DurabilityInMemory {
		w.mu.Lock()
		w.ringTail = append(w.ringTail, payload)
		if len(w.ringTail) > ringCap {
			w.ringTail = w.ringTail[len(w.ringTail)-ringCap:]
		}
		w.mu.Unlock()
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := writeFrame(w.bufw, payload)
	if err != nil {
		return errs.Wrap(errs.IO, "storage.WAL.Append", "writing frame", err)
	}
	w.size += int64(n)
	metrics.WALBytesWritten.Add(float64(n))

	switch w.durability {
	case DurabilityStrict:
		timer := metrics.NewTimer()
		if err := w.bufw.Flush(); err != nil {
			return errs.Wrap(errs.IO, "storage.WAL.Append", "flushing frame", err)
		}
		if err := w.file.Sync(); err != nil {
			return errs.Wrap(errs.IO, "storage.WAL.Append", "fsync", err)
		}
		timer.ObserveDuration(metrics.WALFsyncDuration)
	case DurabilityBuffered:
		select {
		case w.flushSignal <- struct{}{}:
		default:
		}
	}

	if w.size >= w.segLimit {
		if err := w.rollover(); err != nil {
			return err
		}
	}
	return nil
}

// rollover must be called with w.mu held.
func (w *WAL) rollover() error {
	if err := w.bufw.Flush(); err != nil {
		return errs.Wrap(errs.IO, "storage.WAL.rollover", "flushing before rollover", err)
	}
	if err := w.file.Sync(); err != nil {
		return errs.Wrap(errs.IO, "storage.WAL.rollover", "fsync before rollover", err)
	}
	if err := w.file.Close(); err != nil {
		return errs.Wrap(errs.IO, "storage.WAL.rollover", "closing old segment", err)
	}
	next := w.active + 1
	f, err := createSegment(w.dir, next)
	if err != nil {
		return err
	}
	w.file = f
	w.bufw = bufio.NewWriter(f)
	w.active = next
	w.size = 0
	metrics.WALSegmentRollovers.Inc()
	log.WithSegment(w.logger, next).Debug().Msg("rollover")
	if w.onRollover != nil {
		w.onRollover(next)
	}
	return nil
}

// ActiveSegment returns the currently active segment number.
func (w *WAL) ActiveSegment() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Close flushes and fsyncs any pending data, stops the background flusher
// (Buffered mode) with a clean join, and closes the active segment file.
func (w *WAL) Close() error {
	if w.durability == DurabilityInMemory {
		return nil
	}
	if w.durability == DurabilityBuffered {
		close(w.stop)
		<-w.done
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.durability == DurabilityStrict {
		w.flushAndSync()
	}
	return w.file.Close()
}
