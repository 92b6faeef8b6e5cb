package media

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/skobkin/carlinkgo/internal/protocol"
)

var ErrSinkClosed = errors.New("sink closed")

// VideoFileSink appends raw H.264 to a file so it can be played with ffplay.
type VideoFileSink struct {
	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	frames uint64
}

func NewVideoFileSink(path string) (*VideoFileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create video dump: %w", err)
	}
	return &VideoFileSink{file: f, w: bufio.NewWriter(f)}, nil
}

func (s *VideoFileSink) DecodeVideo(frame VideoFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return ErrSinkClosed
	}
	if len(frame.Data) == 0 {
		return errors.New("empty video frame")
	}
	if _, err := s.w.Write(frame.Data); err != nil {
		return err
	}
	s.frames++
	return nil
}

func (s *VideoFileSink) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *VideoFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	err := errors.Join(s.w.Flush(), s.file.Close())
	s.w = nil
	return err
}

// PCMFileSink writes S16LE samples of a single format to a file. Samples in any
// other format are skipped and logged once per format.
type PCMFileSink struct {
	logger *slog.Logger

	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	format  *protocol.AudioFormatSpec
	skipped map[string]bool
	samples uint64
}

func NewPCMFileSink(path string, logger *slog.Logger) (*PCMFileSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create audio dump: %w", err)
	}
	return &PCMFileSink{logger: logger, file: f, w: bufio.NewWriter(f), skipped: make(map[string]bool)}, nil
}

func (s *PCMFileSink) WriteSamples(format protocol.AudioFormatSpec, _ uint32, samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return ErrSinkClosed
	}

	if s.format == nil {
		f := format
		s.format = &f
		s.logger.Info("audio dump format", "mime", format.MimeType)
	}
	if s.format.MimeType != format.MimeType {
		if !s.skipped[format.MimeType] {
			s.skipped[format.MimeType] = true
			s.logger.Info("skipping audio in another format", "mime", format.MimeType, "dump_mime", s.format.MimeType)
		}
		return nil
	}

	if err := binary.Write(s.w, binary.LittleEndian, samples); err != nil {
		return err
	}
	s.samples += uint64(len(samples))
	return nil
}

func (s *PCMFileSink) Control(cmd protocol.AudioCommand, audioType uint32) {
	s.logger.Debug("audio control", "command", cmd.String(), "audio_type", audioType)
}

// Format is the format being dumped, or nil before the first samples arrive.
func (s *PCMFileSink) Format() *protocol.AudioFormatSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

func (s *PCMFileSink) Samples() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

func (s *PCMFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return nil
	}
	err := errors.Join(s.w.Flush(), s.file.Close())
	s.w = nil
	return err
}
