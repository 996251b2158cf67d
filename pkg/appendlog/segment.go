package appendlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const frameHeaderSize = 8

type segInfo struct {
	id   int
	path string
}

func segmentPath(dir string, id int) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.seg", id))
}

func listSegments(dir string) ([]segInfo, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var segs []segInfo
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".seg") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(e.Name(), ".seg"))
		if err != nil {
			continue
		}
		segs = append(segs, segInfo{id: id, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })
	return segs, nil
}

// encodeFrame returns the framed CBOR encoding of e.
func encodeFrame(e Entry) ([]byte, error) {
	payload, err := cbor.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("appendlog: encode entry %d: %w", e.Offset, err)
	}
	frame := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], crc32.ChecksumIEEE(payload))
	copy(frame[frameHeaderSize:], payload)
	return frame, nil
}

// readFrame decodes the next frame from r. It returns io.EOF at a clean
// end and ErrCorrupt for a torn or mismatched frame.
func readFrame(r io.Reader) (Entry, int, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, 0, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Entry{}, 0, ErrCorrupt
		}
		return Entry{}, 0, err
	}
	n := binary.LittleEndian.Uint32(hdr[0:4])
	sum := binary.LittleEndian.Uint32(hdr[4:8])

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Entry{}, 0, ErrCorrupt
		}
		return Entry{}, 0, err
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return Entry{}, 0, ErrCorrupt
	}
	var e Entry
	if err := cbor.Unmarshal(payload, &e); err != nil {
		return Entry{}, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return e, frameHeaderSize + int(n), nil
}

// scanSegment calls fn for each intact entry and returns the byte length
// of the intact prefix. A corrupt frame ends the scan without error.
func scanSegment(path string, fn func(Entry) bool) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var good int64
	for {
		e, n, err := readFrame(f)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrCorrupt) {
				return good, nil
			}
			return good, err
		}
		good += int64(n)
		if fn != nil && !fn(e) {
			return good, nil
		}
	}
}
