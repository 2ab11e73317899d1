package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/strata/pkg/errs"
)

// segmentMagic identifies a WAL segment file. segmentFormatVersion allows
// the on-disk layout to evolve without breaking old segments outright.
const (
	segmentMagic         = "STRATWAL"
	segmentFormatVersion = uint32(1)
	segmentHeaderSize    = len(segmentMagic) + 4 + 4 // magic + format version + segment number
)

func segmentFileName(number uint32) string {
	return fmt.Sprintf("wal-%06d.seg", number)
}

// parseSegmentNumber extracts the segment number from a "wal-NNNNNN.seg"
// file name, or ok=false if name doesn't match that shape.
func parseSegmentNumber(name string) (uint32, bool) {
	if !strings.HasPrefix(name, "wal-") || !strings.HasSuffix(name, ".seg") {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, "wal-"), ".seg")
	n, err := strconv.ParseUint(digits, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// listSegments returns segment numbers present in dir, ascending.
func listSegments(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var nums []uint32
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if n, ok := parseSegmentNumber(e.Name()); ok {
			nums = append(nums, n)
		}
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}

// writeSegmentHeader writes the fixed segment header: magic, format
// version, segment number.
func writeSegmentHeader(f *os.File, number uint32) (int, error) {
	buf := make([]byte, 0, segmentHeaderSize)
	buf = append(buf, []byte(segmentMagic)...)
	var versionBuf [4]byte
	binary.BigEndian.PutUint32(versionBuf[:], segmentFormatVersion)
	buf = append(buf, versionBuf[:]...)
	var numBuf [4]byte
	binary.BigEndian.PutUint32(numBuf[:], number)
	buf = append(buf, numBuf[:]...)
	n, err := f.Write(buf)
	return n, err
}

// readSegmentHeader validates and consumes the fixed segment header,
// returning the segment number it declares.
func readSegmentHeader(f *os.File) (uint32, error) {
	buf := make([]byte, segmentHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return 0, errs.Wrap(errs.IO, "storage.readSegmentHeader", "reading segment header", err)
	}
	if string(buf[:len(segmentMagic)]) != segmentMagic {
		return 0, errs.New(errs.Serialization, "storage.readSegmentHeader", "bad segment magic")
	}
	version := binary.BigEndian.Uint32(buf[len(segmentMagic) : len(segmentMagic)+4])
	if version != segmentFormatVersion {
		return 0, errs.New(errs.UnsupportedVersion, "storage.readSegmentHeader",
			fmt.Sprintf("segment format version %d unsupported", version))
	}
	number := binary.BigEndian.Uint32(buf[len(segmentMagic)+4:])
	return number, nil
}

func segmentPath(dir string, number uint32) string {
	return filepath.Join(dir, segmentFileName(number))
}

// createSegment creates a new segment file and writes its header.
func createSegment(dir string, number uint32) (*os.File, error) {
	f, err := os.OpenFile(segmentPath(dir, number), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.IO, "storage.createSegment", "creating segment file", err)
	}
	if _, err := writeSegmentHeader(f, number); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IO, "storage.createSegment", "writing segment header", err)
	}
	return f, nil
}
