package diffmerge

import (
	"errors"
	"fmt"

	"github.com/walb-tools/walb-go/internal/diffmap"
	"github.com/walb-tools/walb-go/internal/wdiff"
)

// stream is one input to the merge, wrapping a wdiff.Reader with a
// lazily-filled lookahead front record (spec §4.E: "each holding its
// current record at its front").
type stream struct {
	rd    *wdiff.Reader
	front *diffmap.Entry
	eof   bool
}

func newStream(rd *wdiff.Reader) (*stream, error) {
	s := &stream{rd: rd}
	if err := s.advance(); err != nil {
		return nil, err
	}
	return s, nil
}

// empty reports whether this stream has no buffered front record and
// will never produce one again.
func (s *stream) empty() bool { return s.eof && s.front == nil }

// advance pulls the next record into front, crossing pack boundaries as
// needed, or marks the stream eof.
func (s *stream) advance() error {
	for {
		var rec wdiff.DiffRecord
		var payload []byte
		err := s.rd.ReadLog(&rec, &payload)
		if err == nil {
			s.front = &diffmap.Entry{
				IoAddress: rec.IoAddress,
				IoBlocks:  rec.IoBlocks,
				Flags:     rec.Flags,
				Payload:   payload,
			}
			return nil
		}
		if !errors.Is(err, wdiff.ErrPackDone) {
			return fmt.Errorf("diffmerge: read record: %w", err)
		}
		ok, err := s.rd.FetchNext()
		if err != nil {
			return fmt.Errorf("diffmerge: fetch next pack: %w", err)
		}
		if !ok {
			s.eof = true
			s.front = nil
			return nil
		}
	}
}

// pop returns the current front entry and advances the stream.
func (s *stream) pop() (diffmap.Entry, error) {
	e := *s.front
	return e, s.advance()
}
