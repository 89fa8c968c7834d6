// Package commands holds the per-image primary command buffers and guards their
// recording state.
package commands

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Driver is the slice of the device driver a Set records through.
type Driver interface {
	BeginCommandBuffer(commandBuffer core1_0.CommandBuffer, o core1_0.CommandBufferBeginInfo) (common.VkResult, error)
	EndCommandBuffer(commandBuffer core1_0.CommandBuffer) (common.VkResult, error)
}

// Set is one primary command buffer per chain image. Buffers are re-recorded every frame,
// and at most one of them may be recording at a time.
type Set struct {
	driver  Driver
	buffers []core1_0.CommandBuffer

	recording int
}

// Allocate creates count primary command buffers from pool.
func Allocate(driver core1_0.CoreDeviceDriver, pool core1_0.CommandPool, count int) (*Set, error) {
	buffers, _, err := driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        pool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "allocate %d command buffers", count)
	}

	return NewSet(driver, buffers), nil
}

// NewSet wraps already allocated buffers.
func NewSet(driver Driver, buffers []core1_0.CommandBuffer) *Set {
	return &Set{
		driver:    driver,
		buffers:   buffers,
		recording: -1,
	}
}

func (s *Set) Len() int {
	return len(s.buffers)
}

// Buffer returns the command buffer for a chain image.
func (s *Set) Buffer(index int) core1_0.CommandBuffer {
	return s.buffers[index]
}

// Recording returns the index currently between Begin and End, or -1.
func (s *Set) Recording() int {
	return s.recording
}

// Begin starts recording into the buffer for index. Beginning while any buffer is already
// recording is a programming error.
func (s *Set) Begin(index int, flags core1_0.CommandBufferUsageFlags) (core1_0.CommandBuffer, error) {
	if index < 0 || index >= len(s.buffers) {
		return core1_0.CommandBuffer{}, errors.AssertionFailedf("command buffer index %d out of range [0, %d)", index, len(s.buffers))
	}

	if s.recording >= 0 {
		return core1_0.CommandBuffer{}, errors.AssertionFailedf("begin command buffer %d while %d is still recording", index, s.recording)
	}

	buffer := s.buffers[index]
	_, err := s.driver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: flags,
	})
	if err != nil {
		return core1_0.CommandBuffer{}, errors.Wrapf(err, "begin command buffer %d", index)
	}

	s.recording = index
	return buffer, nil
}

// End finishes the buffer opened by Begin.
func (s *Set) End() error {
	if s.recording < 0 {
		return errors.AssertionFailedf("end command buffer with nothing recording")
	}

	index := s.recording
	s.recording = -1

	_, err := s.driver.EndCommandBuffer(s.buffers[index])
	return errors.Wrapf(err, "end command buffer %d", index)
}

// Free returns the buffers to the pool. Nothing may be recording and the GPU must be done
// with every buffer.
func (s *Set) Free(driver core1_0.CoreDeviceDriver) {
	if len(s.buffers) > 0 {
		driver.FreeCommandBuffers(s.buffers...)
		s.buffers = nil
	}
	s.recording = -1
}
