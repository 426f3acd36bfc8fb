/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package video drives an external frame decoder against relayed device
// streams. Decoding itself stays behind the Decoder seam; this package owns
// stream addressing and the background read loop.
package video

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/flightdeck/pkg/logger"
)

const (
	// DefaultFrameGrabTimeout bounds how long Start waits for the decoder
	// to open a stream before giving up.
	DefaultFrameGrabTimeout = 5 * time.Second

	// DefaultQueueSize is the bounded queue capacity in queued mode.
	DefaultQueueSize = 32
)

// Frame is one decoded video frame.
type Frame struct {
	Data []byte
	Time time.Time
}

// FrameSeq is a lazy sequence of decoded frames. Next blocks until a frame is
// available, the sequence ends, or ctx is done.
type FrameSeq interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Decoder opens a frame sequence for a stream address. Implementations wrap
// an external decoder; Open must not retain ctx past the call.
type Decoder interface {
	Open(ctx context.Context, address string) (FrameSeq, error)
}

// StreamAddress returns the UDP listen address a decoder should open for a
// relayed video stream.
func StreamAddress(host string, port int) string {
	return fmt.Sprintf("udp://@%s:%d", host, port)
}

// ReaderOption configures a BackgroundReader.
type ReaderOption func(*BackgroundReader)

// WithQueue switches the reader to queued mode with the given capacity. A
// full queue drops the oldest frame. size <= 0 uses DefaultQueueSize.
func WithQueue(size int) ReaderOption {
	return func(r *BackgroundReader) {
		r.queued = true

		if size > 0 {
			r.queueSize = size
		}
	}
}

// WithFrameGrabTimeout overrides how long Start waits for the decoder to
// open the stream.
func WithFrameGrabTimeout(d time.Duration) ReaderOption {
	return func(r *BackgroundReader) {
		if d > 0 {
			r.grabTimeout = d
		}
	}
}

// BackgroundReader pulls frames from a decoded stream on a background
// goroutine. In latest mode Frame returns the most recent frame; in queued
// mode frames accumulate in a bounded queue and NextQueued pops the oldest.
//
// The reader is restartable: Stop closes the stream and a later Start
// reopens it through the Decoder. A decoder failure mid-run ends the worker
// and freezes the stored frames until the next Stop/Start cycle.
type BackgroundReader struct {
	decoder Decoder
	address string
	logger  logger.Logger

	queued      bool
	queueSize   int
	grabTimeout time.Duration

	mu      sync.Mutex
	running bool
	seq     FrameSeq
	cancel  context.CancelFunc
	latest  Frame
	queue   []Frame

	wg sync.WaitGroup
}

// NewBackgroundReader builds a reader for address. The stream opens on Start,
// not here.
func NewBackgroundReader(dec Decoder, address string, log logger.Logger, opts ...ReaderOption) *BackgroundReader {
	r := &BackgroundReader{
		decoder:     dec,
		address:     address,
		logger:      log,
		queueSize:   DefaultQueueSize,
		grabTimeout: DefaultFrameGrabTimeout,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Address returns the stream address the reader opens.
func (r *BackgroundReader) Address() string { return r.address }

// Start opens the stream through the decoder and launches the read loop.
// ctx bounds only the open; the loop runs until Stop. Starting a running
// reader is a no-op.
func (r *BackgroundReader) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return nil
	}

	openCtx, cancelOpen := context.WithTimeout(ctx, r.grabTimeout)
	defer cancelOpen()

	seq, err := r.decoder.Open(openCtx, r.address)
	if err != nil {
		return fmt.Errorf("failed to open video stream %s: %w", r.address, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	r.running = true
	r.seq = seq
	r.cancel = cancel

	r.wg.Add(1)

	go r.loop(loopCtx, seq)

	return nil
}

func (r *BackgroundReader) loop(ctx context.Context, seq FrameSeq) {
	defer r.wg.Done()

	for {
		frame, err := seq.Next(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				r.logger.Warn().Err(err).Str("address", r.address).Msg("Video frame read failed")
			}

			return
		}

		r.store(frame)
	}
}

func (r *BackgroundReader) store(frame Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.queued {
		r.latest = frame
		return
	}

	if len(r.queue) == r.queueSize {
		r.queue = r.queue[1:]
	}

	r.queue = append(r.queue, frame)
}

// Frame returns the most recent frame in latest mode. In queued mode it pops
// the oldest queued frame, returning a zero Frame when the queue is empty;
// use NextQueued to tell the two apart.
func (r *BackgroundReader) Frame() Frame {
	if r.queued {
		frame, _ := r.NextQueued()
		return frame
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.latest
}

// NextQueued pops the oldest queued frame. ok is false when the queue is
// empty or the reader is in latest mode.
func (r *BackgroundReader) NextQueued() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.queued || len(r.queue) == 0 {
		return Frame{}, false
	}

	frame := r.queue[0]
	r.queue = r.queue[1:]

	return frame, true
}

// Stop halts the read loop and closes the stream. Stored frames survive so a
// consumer can drain after stopping. Stopping a stopped reader is a no-op.
func (r *BackgroundReader) Stop() {
	r.mu.Lock()

	if !r.running {
		r.mu.Unlock()
		return
	}

	r.running = false
	cancel := r.cancel
	seq := r.seq
	r.seq = nil
	r.cancel = nil

	r.mu.Unlock()

	cancel()

	if err := seq.Close(); err != nil {
		r.logger.Debug().Err(err).Str("address", r.address).Msg("Error closing video stream")
	}

	r.wg.Wait()
}

// Stream pairs one device with its background reader.
type Stream struct {
	DeviceID string
	Host     string
	Reader   *BackgroundReader
}

// StreamSet is the per-device video stream collection for a fleet, in fleet
// order.
type StreamSet struct {
	streams []Stream
}

// NewStreamSet builds a set over streams.
func NewStreamSet(streams []Stream) *StreamSet {
	return &StreamSet{streams: streams}
}

// Streams returns the streams in fleet order.
func (s *StreamSet) Streams() []Stream {
	out := make([]Stream, len(s.streams))
	copy(out, s.streams)

	return out
}

// Start starts every reader. On failure the already-started readers are
// stopped before returning.
func (s *StreamSet) Start(ctx context.Context) error {
	for i, st := range s.streams {
		if err := st.Reader.Start(ctx); err != nil {
			for j := 0; j < i; j++ {
				s.streams[j].Reader.Stop()
			}

			return fmt.Errorf("failed to start video stream for %s: %w", st.DeviceID, err)
		}
	}

	return nil
}

// Stop stops every reader.
func (s *StreamSet) Stop() {
	for _, st := range s.streams {
		st.Reader.Stop()
	}
}
