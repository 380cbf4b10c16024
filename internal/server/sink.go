package server

import (
	"os"
	"sync"

	"github.com/recondeck/recondeck/internal/stream"
)

// teeSink duplicates every chunk into the on-disk artifact and the push
// channel. The artifact is opened lazily on the first chunk: the sink is
// built before the job registry's duplicate check runs, and a rejected
// start must not truncate the artifact a live job is still writing. The
// file is authoritative; a relay failure surfaces so the job tears down,
// while the file written so far survives.
type teeSink struct {
	path  string
	relay stream.Sink

	mu   sync.Mutex
	file *os.File
	once sync.Once
}

func newTeeSink(path string, relay stream.Sink) *teeSink {
	return &teeSink{path: path, relay: relay}
}

func (s *teeSink) Send(chunk []byte) error {
	s.mu.Lock()
	if s.file == nil {
		f, err := os.Create(s.path)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.file = f
	}
	_, err := s.file.Write(chunk)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.relay.Send(chunk)
}

// Close ends the relay and the artifact. A run that emitted nothing still
// leaves an empty artifact behind, so the path persisted on the record
// always resolves.
func (s *teeSink) Close() error {
	var err error
	s.once.Do(func() {
		err = s.relay.Close()
		s.mu.Lock()
		f := s.file
		s.file = nil
		s.mu.Unlock()
		if f == nil {
			var cerr error
			f, cerr = os.Create(s.path)
			if cerr != nil {
				if err == nil {
					err = cerr
				}
				return
			}
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	})
	return err
}
