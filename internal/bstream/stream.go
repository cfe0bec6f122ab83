// Package bstream implements a positioned, little-endian byte stream over
// an *os.File, with buffered read/write modes that switch cleanly.
package bstream

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

type mode int

const (
	modeNone mode = iota
	modeRead
	modeWrite
)

// Stream wraps a file with buffered little-endian read/write access.
// Only one of the read or write buffer is live at a time; switching modes
// flushes or discards the inactive buffer and repositions the file so the
// logical cursor stays consistent.
type Stream struct {
	f    *os.File
	br   *bufio.Reader
	bw   *bufio.Writer
	mode mode
	pos  int64 // logical cursor, authoritative across mode switches
}

// Create opens path for read/write, truncating or creating it.
func Create(path string) (*Stream, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return nil, err
	}
	return &Stream{f: f}, nil
}

// Open opens path read-only.
func Open(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Stream{f: f}, nil
}

func (s *Stream) Close() error {
	if err := s.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

// Flush commits any buffered writes.
func (s *Stream) Flush() error {
	if s.mode == modeWrite && s.bw != nil {
		return s.bw.Flush()
	}
	return nil
}

func (s *Stream) toWrite() error {
	if s.mode == modeWrite {
		return nil
	}
	if s.mode == modeRead && s.br != nil {
		// discard unread buffered bytes by repositioning the file
		buffered := s.br.Buffered()
		if buffered > 0 {
			if _, err := s.f.Seek(s.pos, io.SeekStart); err != nil {
				return err
			}
		}
	}
	if _, err := s.f.Seek(s.pos, io.SeekStart); err != nil {
		return err
	}
	s.bw = bufio.NewWriter(s.f)
	s.br = nil
	s.mode = modeWrite
	return nil
}

func (s *Stream) toRead() error {
	if s.mode == modeRead {
		return nil
	}
	if s.mode == modeWrite && s.bw != nil {
		if err := s.bw.Flush(); err != nil {
			return err
		}
	}
	if _, err := s.f.Seek(s.pos, io.SeekStart); err != nil {
		return err
	}
	s.br = bufio.NewReader(s.f)
	s.bw = nil
	s.mode = modeRead
	return nil
}

// Seek sets the logical cursor. Any buffered state is flushed/discarded.
func (s *Stream) Seek(offset int64) error {
	if err := s.Flush(); err != nil {
		return err
	}
	s.br = nil
	s.bw = nil
	s.mode = modeNone
	s.pos = offset
	return nil
}

// Pos returns the current logical cursor.
func (s *Stream) Pos() int64 { return s.pos }

// Truncate resizes the underlying file.
func (s *Stream) Truncate(size int64) error {
	if err := s.Flush(); err != nil {
		return err
	}
	return s.f.Truncate(size)
}

// ReadBytes reads exactly n bytes, or returns io.ErrUnexpectedEOF on a
// short read.
func (s *Stream) ReadBytes(n int) ([]byte, error) {
	if err := s.toRead(); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	got, err := io.ReadFull(s.br, buf)
	s.pos += int64(got)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return buf[:got], io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// WriteBytes writes b at the current cursor.
func (s *Stream) WriteBytes(b []byte) error {
	if err := s.toWrite(); err != nil {
		return err
	}
	n, err := s.bw.Write(b)
	s.pos += int64(n)
	return err
}

func (s *Stream) ReadU8() (uint8, error) {
	b, err := s.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *Stream) ReadU16() (uint16, error) {
	b, err := s.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (s *Stream) ReadU32() (uint32, error) {
	b, err := s.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (s *Stream) ReadU64() (uint64, error) {
	b, err := s.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (s *Stream) WriteU8(v uint8) error {
	return s.WriteBytes([]byte{v})
}

func (s *Stream) WriteU16(v uint16) error {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return s.WriteBytes(b)
}

func (s *Stream) WriteU32(v uint32) error {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return s.WriteBytes(b)
}

func (s *Stream) WriteU64(v uint64) error {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return s.WriteBytes(b)
}

// WriteZeros writes n zero bytes, for padding runs.
func (s *Stream) WriteZeros(n int) error {
	if n <= 0 {
		return nil
	}
	return s.WriteBytes(make([]byte, n))
}

// ErrShortRead is a generic short-read error value. ReadBytes and the
// typed readers do not return it; they report a short read as
// io.ErrUnexpectedEOF.
var ErrShortRead = fmt.Errorf("short read")
