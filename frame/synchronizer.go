// Package frame drives the acquire/submit/present loop across a fixed number of frames in
// flight and decides when the presentable-image chain has to be rebuilt.
//
// A frame slot owns one fence and two semaphores and is reused round-robin. Chain images
// are tracked separately: each remembers the slot that last submitted work for it, and a
// slot about to reuse an image first waits on that slot's fence. The two counts are
// independent; the slot count is pipelining depth, the image count is whatever the
// display driver handed out.
package frame

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/loov/hrtime"
	"golang.org/x/exp/slog"
)

// DefaultFramesInFlight is the slot count used when none is configured.
const DefaultFramesInFlight = 2

// ErrWindowClosed is returned by Recreate when the window closes while waiting for a
// non-zero drawable.
var ErrWindowClosed = errors.New("window closed")

// Status is the staleness report of an acquire or present.
type Status int

const (
	StatusOK Status = iota
	// StatusSuboptimal means the image is still usable but the chain no longer matches the
	// surface exactly.
	StatusSuboptimal
	// StatusOutOfDate means the chain can no longer be presented to.
	StatusOutOfDate
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSuboptimal:
		return "suboptimal"
	case StatusOutOfDate:
		return "out of date"
	}
	return "unknown"
}

// GPU is the queue side of the loop, addressed by slot and image index.
type GPU interface {
	// WaitFrame blocks until the slot's fence is signaled.
	WaitFrame(slot int) error
	// ResetFrame unsignals the slot's fence.
	ResetFrame(slot int) error
	// AcquireImage asks for the next chain image, signaling the slot's acquire semaphore.
	AcquireImage(slot int) (int, Status, error)
	// Submit runs image's command buffer after the slot's acquire semaphore, signaling the
	// slot's render-finished semaphore and fence.
	Submit(slot, image int) error
	// Present queues image for display after the slot's render-finished semaphore.
	Present(slot, image int) (Status, error)
	WaitIdle() error
}

// Producer writes the CPU side of a frame for one chain image.
type Producer interface {
	UpdateUniforms(image int) error
	Record(image int) error
}

// Chain is the rebuildable chain-dependent state.
type Chain interface {
	ImageCount() int
	Generation() uuid.UUID
	// Rebuild replaces the chain and everything built on it. The device is idle.
	Rebuild() error
}

// Window is the drawable the chain presents to.
type Window interface {
	DrawableSize() (width, height int)
	// WaitEvents blocks until the window system has delivered something and reports
	// whether the window is still open.
	WaitEvents() bool
}

// SlotState is where a frame slot is in its cycle.
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotAcquiring
	SlotSubmitted
	SlotPresented
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotAcquiring:
		return "acquiring"
	case SlotSubmitted:
		return "submitted"
	case SlotPresented:
		return "presented"
	}
	return "unknown"
}

// Stats are counters and the most recent stall timings.
type Stats struct {
	Frames       uint64
	Skipped      uint64
	Recreations  uint64
	ImageWaits   uint64
	FenceStall   time.Duration
	ImageStall   time.Duration
	RecreateTime time.Duration
}

type slot struct {
	state SlotState
	// generation is the chain that signaled this slot's acquire semaphore.
	generation uuid.UUID
}

// Synchronizer runs one frame per DrawFrame call. It is not safe for concurrent use; the
// fences it waits on are its only exclusion mechanism.
type Synchronizer struct {
	gpu      GPU
	chain    Chain
	window   Window
	producer Producer
	logger   *slog.Logger

	slots          []slot
	imagesInFlight []int
	current        int

	resized bool
	stats   Stats
}

// Options configures a Synchronizer.
type Options struct {
	FramesInFlight int
	Logger         *slog.Logger
}

func NewSynchronizer(gpu GPU, chain Chain, window Window, producer Producer, opts Options) (*Synchronizer, error) {
	if opts.FramesInFlight == 0 {
		opts.FramesInFlight = DefaultFramesInFlight
	}
	if opts.FramesInFlight < 1 {
		return nil, errors.Newf("frames in flight must be positive, got %d", opts.FramesInFlight)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Synchronizer{
		gpu:      gpu,
		chain:    chain,
		window:   window,
		producer: producer,
		logger:   opts.Logger,
		slots:    make([]slot, opts.FramesInFlight),
	}
	s.resetImages()

	return s, nil
}

func (s *Synchronizer) resetImages() {
	s.imagesInFlight = make([]int, s.chain.ImageCount())
	for i := range s.imagesInFlight {
		s.imagesInFlight[i] = -1
	}
}

// NotifyResized records a resize from the window system. The chain is rebuilt after the
// next present.
func (s *Synchronizer) NotifyResized() {
	s.resized = true
}

// FramesInFlight is the slot count.
func (s *Synchronizer) FramesInFlight() int {
	return len(s.slots)
}

// CurrentSlot is the slot the next DrawFrame will use.
func (s *Synchronizer) CurrentSlot() int {
	return s.current
}

// SlotStates snapshots every slot's state.
func (s *Synchronizer) SlotStates() []SlotState {
	states := make([]SlotState, len(s.slots))
	for i, sl := range s.slots {
		states[i] = sl.state
	}
	return states
}

// ImageInFlight returns the slot whose fence guards image, or -1.
func (s *Synchronizer) ImageInFlight(image int) int {
	return s.imagesInFlight[image]
}

func (s *Synchronizer) Stats() Stats {
	return s.stats
}

// DrawFrame runs one acquire, record, submit, present iteration on the current slot.
// Staleness is handled here by rebuilding the chain; only unrecoverable failures are
// returned.
func (s *Synchronizer) DrawFrame() error {
	index := s.current
	current := &s.slots[index]

	if current.state == SlotAcquiring || current.state == SlotSubmitted {
		return errors.AssertionFailedf("frame slot %d reused while %s", index, current.state)
	}

	start := hrtime.Now()
	err := s.gpu.WaitFrame(index)
	if err != nil {
		return errors.Wrapf(err, "wait for frame slot %d", index)
	}
	s.stats.FenceStall = hrtime.Since(start)

	current.state = SlotAcquiring
	image, status, err := s.gpu.AcquireImage(index)
	if err != nil {
		current.state = SlotIdle
		return errors.Wrap(err, "acquire next image")
	}

	if status == StatusOutOfDate {
		// Nothing was signaled and the fence is still signaled, so the slot is reusable as is
		current.state = SlotIdle
		s.stats.Skipped++
		s.logger.Debug("chain out of date at acquire", slog.Int("slot", index))
		return s.Recreate()
	}

	recreate := status == StatusSuboptimal
	if image < 0 || image >= len(s.imagesInFlight) {
		return errors.AssertionFailedf("acquired image %d of a %d-image chain", image, len(s.imagesInFlight))
	}
	current.generation = s.chain.Generation()

	if marker := s.imagesInFlight[image]; marker >= 0 && marker != index {
		start = hrtime.Now()
		err = s.gpu.WaitFrame(marker)
		if err != nil {
			return errors.Wrapf(err, "wait for image %d held by slot %d", image, marker)
		}
		s.stats.ImageStall = hrtime.Since(start)
		s.stats.ImageWaits++
	}
	s.imagesInFlight[image] = index

	err = s.producer.UpdateUniforms(image)
	if err != nil {
		return errors.Wrapf(err, "update uniforms for image %d", image)
	}

	err = s.producer.Record(image)
	if err != nil {
		return errors.Wrapf(err, "record commands for image %d", image)
	}

	if generation := s.chain.Generation(); current.generation != generation {
		return errors.AssertionFailedf("slot %d acquire semaphore signaled by chain %s, submitting to chain %s",
			index, current.generation, generation)
	}

	err = s.gpu.ResetFrame(index)
	if err != nil {
		return errors.Wrapf(err, "reset frame slot %d", index)
	}

	err = s.gpu.Submit(index, image)
	if err != nil {
		return errors.Wrapf(err, "submit image %d", image)
	}
	current.state = SlotSubmitted

	status, err = s.gpu.Present(index, image)
	if err != nil {
		return errors.Wrapf(err, "present image %d", image)
	}
	current.state = SlotPresented

	s.current = (s.current + 1) % len(s.slots)
	s.stats.Frames++

	if status != StatusOK || recreate || s.resized {
		return s.Recreate()
	}

	return nil
}

// Recreate blocks until the drawable is non-zero, drains the device and rebuilds the chain.
// Frame slots and their sync objects carry over; image markers are cleared because the
// drained device leaves nothing in flight.
func (s *Synchronizer) Recreate() error {
	width, height := s.window.DrawableSize()
	for width == 0 || height == 0 {
		if !s.window.WaitEvents() {
			return ErrWindowClosed
		}
		width, height = s.window.DrawableSize()
	}

	start := hrtime.Now()
	err := s.gpu.WaitIdle()
	if err != nil {
		return errors.Wrap(err, "wait for device idle before recreation")
	}

	previous := s.chain.Generation()
	err = s.chain.Rebuild()
	if err != nil {
		return errors.Wrap(err, "rebuild chain")
	}

	s.resized = false
	s.resetImages()
	for i := range s.slots {
		s.slots[i].state = SlotIdle
	}

	s.stats.Recreations++
	s.stats.RecreateTime = hrtime.Since(start)

	s.logger.Info("recreated chain",
		slog.String("previous", previous.String()),
		slog.String("generation", s.chain.Generation().String()),
		slog.Int("width", width),
		slog.Int("height", height),
		slog.Int("images", s.chain.ImageCount()),
		slog.Duration("took", s.stats.RecreateTime))
	return nil
}
