// Package descriptor allocates descriptor sets for named binding groups out of a single
// pool and binds uniform buffers and textures into them.
package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/renderloop/resource"
	"golang.org/x/exp/slog"
)

var (
	// ErrBindingMismatch reports resources that do not fit a group's declared bindings.
	ErrBindingMismatch = errors.New("resources do not match group bindings")
	// ErrPoolExhausted reports more sets requested than the pool was sized for.
	ErrPoolExhausted = errors.New("descriptor pool exhausted")
)

// Frequency says how often a group's contents change, which decides how many sets of it
// exist.
type Frequency int

const (
	// PerFrame groups get one set per chain image.
	PerFrame Frequency = iota
	// Static groups get one set per resource instance, independent of the chain.
	Static
)

func (f Frequency) String() string {
	switch f {
	case PerFrame:
		return "per-frame"
	case Static:
		return "static"
	}
	return "unknown"
}

// Binding is one shader-visible slot. Size is the uniform range in bytes; zero means the
// rest of the supplied buffer.
type Binding struct {
	Type   core1_0.DescriptorType
	Stages core1_0.ShaderStageFlags
	Size   int
}

// Group is a named set layout. Instances is only read for Static groups.
type Group struct {
	Name      string
	Frequency Frequency
	Bindings  []Binding
	Instances int
}

func (g Group) count(descriptorType core1_0.DescriptorType) int {
	count := 0
	for _, binding := range g.Bindings {
		if binding.Type == descriptorType {
			count++
		}
	}
	return count
}

func (g Group) multiplicity(imageCount int) int {
	if g.Frequency == PerFrame {
		return imageCount
	}
	return g.Instances
}

// Set is an allocated descriptor set and the resources written into it.
type Set struct {
	Handle   core1_0.DescriptorSet
	Group    string
	Buffers  []*resource.Buffer
	Textures []*resource.Texture
}

// PoolSizes computes the pool's set count and per-type descriptor counts: per-frame
// groups count imageCount times, static groups Instances times.
func PoolSizes(groups []Group, imageCount int) (int, []core1_0.DescriptorPoolSize) {
	maxSets := 0
	var sizes []core1_0.DescriptorPoolSize
	indexOf := map[core1_0.DescriptorType]int{}

	for _, group := range groups {
		multiplicity := group.multiplicity(imageCount)
		maxSets += multiplicity

		for _, binding := range group.Bindings {
			idx, seen := indexOf[binding.Type]
			if !seen {
				idx = len(sizes)
				indexOf[binding.Type] = idx
				sizes = append(sizes, core1_0.DescriptorPoolSize{Type: binding.Type})
			}
			sizes[idx].DescriptorCount += multiplicity
		}
	}

	// Zero-count sizes are invalid pool entries
	nonEmpty := sizes[:0]
	for _, size := range sizes {
		if size.DescriptorCount > 0 {
			nonEmpty = append(nonEmpty, size)
		}
	}

	return maxSets, nonEmpty
}

type groupState struct {
	group     Group
	layout    core1_0.DescriptorSetLayout
	allocated int
	sets      []*Set
}

// Binder owns the set layouts, the pool and every set allocated from it.
type Binder struct {
	alloc      Allocator
	groups     []*groupState
	byName     map[string]*groupState
	imageCount int
	logger     *slog.Logger
}

// New creates one layout per group and a pool sized for imageCount chain images.
func New(driver core1_0.CoreDeviceDriver, groups []Group, imageCount int, logger *slog.Logger) (*Binder, error) {
	return NewWithAllocator(&vulkanAllocator{driver: driver}, groups, imageCount, logger)
}

// NewWithAllocator is New over an Allocator other than the device's.
func NewWithAllocator(alloc Allocator, groups []Group, imageCount int, logger *slog.Logger) (*Binder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Binder{
		alloc:      alloc,
		byName:     map[string]*groupState{},
		imageCount: imageCount,
		logger:     logger,
	}

	for _, group := range groups {
		if _, exists := b.byName[group.Name]; exists {
			b.Destroy()
			return nil, errors.Newf("duplicate binding group %q", group.Name)
		}

		layout, err := b.createLayout(group)
		if err != nil {
			b.Destroy()
			return nil, err
		}

		state := &groupState{group: group, layout: layout}
		b.groups = append(b.groups, state)
		b.byName[group.Name] = state
	}

	err := b.createPool()
	if err != nil {
		b.Destroy()
		return nil, err
	}

	return b, nil
}

func (b *Binder) createLayout(group Group) (core1_0.DescriptorSetLayout, error) {
	var bindings []core1_0.DescriptorSetLayoutBinding
	for idx, binding := range group.Bindings {
		if binding.Type != core1_0.DescriptorTypeUniformBuffer && binding.Type != core1_0.DescriptorTypeCombinedImageSampler {
			return core1_0.DescriptorSetLayout{}, errors.Newf("group %q binding %d: unsupported descriptor type %s", group.Name, idx, binding.Type)
		}

		bindings = append(bindings, core1_0.DescriptorSetLayoutBinding{
			Binding:         idx,
			DescriptorType:  binding.Type,
			DescriptorCount: 1,
			StageFlags:      binding.Stages,
		})
	}

	layout, err := b.alloc.CreateLayout(bindings)
	return layout, errors.Wrapf(err, "create layout for group %q", group.Name)
}

func (b *Binder) createPool() error {
	groups := make([]Group, 0, len(b.groups))
	for _, state := range b.groups {
		groups = append(groups, state.group)
	}

	maxSets, sizes := PoolSizes(groups, b.imageCount)
	if maxSets == 0 {
		return nil
	}

	err := b.alloc.CreatePool(maxSets, sizes)
	if err != nil {
		return errors.Wrap(err, "create descriptor pool")
	}

	b.logger.Debug("created descriptor pool", slog.Int("maxSets", maxSets), slog.Int("imageCount", b.imageCount))
	return nil
}

// ImageCount is the chain image count the pool is currently sized for.
func (b *Binder) ImageCount() int {
	return b.imageCount
}

// Layout returns the set layout of a group.
func (b *Binder) Layout(name string) (core1_0.DescriptorSetLayout, error) {
	state, ok := b.byName[name]
	if !ok {
		return core1_0.DescriptorSetLayout{}, errors.Newf("unknown binding group %q", name)
	}
	return state.layout, nil
}

// Layouts lists the set layouts in group declaration order, which is also their set
// number in the pipeline layout.
func (b *Binder) Layouts() []core1_0.DescriptorSetLayout {
	layouts := make([]core1_0.DescriptorSetLayout, 0, len(b.groups))
	for _, state := range b.groups {
		layouts = append(layouts, state.layout)
	}
	return layouts
}

// CreateSet allocates one set of a static group and binds buffers and textures to it.
func (b *Binder) CreateSet(name string, buffers []*resource.Buffer, textures []*resource.Texture) (*Set, error) {
	state, ok := b.byName[name]
	if !ok {
		return nil, errors.Newf("unknown binding group %q", name)
	}

	if state.group.Frequency != Static {
		return nil, errors.Newf("group %q is %s; use CreateFrameSets", name, state.group.Frequency)
	}

	sets, err := b.allocate(state, [][]*resource.Buffer{buffers}, textures)
	if err != nil {
		return nil, err
	}

	return sets[0], nil
}

// CreateFrameSets allocates exactly one set of a per-frame group for every chain image.
// buffers[i] are the uniform buffers for image i; textures are shared by all images.
func (b *Binder) CreateFrameSets(name string, buffers [][]*resource.Buffer, textures []*resource.Texture) ([]*Set, error) {
	state, ok := b.byName[name]
	if !ok {
		return nil, errors.Newf("unknown binding group %q", name)
	}

	if state.group.Frequency != PerFrame {
		return nil, errors.Newf("group %q is %s; use CreateSet", name, state.group.Frequency)
	}

	if len(buffers) != b.imageCount {
		return nil, errors.Wrapf(ErrBindingMismatch, "group %q: %d buffer lists for %d chain images", name, len(buffers), b.imageCount)
	}

	return b.allocate(state, buffers, textures)
}

func (b *Binder) allocate(state *groupState, buffers [][]*resource.Buffer, textures []*resource.Texture) ([]*Set, error) {
	count := len(buffers)

	var writes []core1_0.WriteDescriptorSet
	sets := make([]*Set, 0, count)
	for _, perSet := range buffers {
		set := &Set{Group: state.group.Name, Buffers: perSet, Textures: textures}
		_, err := b.writes(state.group, set)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}

	limit := state.group.multiplicity(b.imageCount)
	if state.allocated+count > limit {
		return nil, errors.Wrapf(ErrPoolExhausted, "group %q: %d sets allocated, %d more requested, room for %d",
			state.group.Name, state.allocated, count, limit)
	}

	handles, err := b.alloc.Allocate(state.layout, count)
	if err != nil {
		return nil, errors.Wrapf(err, "allocate %d sets for group %q", count, state.group.Name)
	}
	state.allocated += count

	for idx, set := range sets {
		set.Handle = handles[idx]
		setWrites, err := b.writes(state.group, set)
		if err != nil {
			return nil, err
		}
		writes = append(writes, setWrites...)
	}

	err = b.alloc.Update(writes)
	if err != nil {
		return nil, errors.Wrapf(err, "update sets for group %q", state.group.Name)
	}

	state.sets = append(state.sets, sets...)
	return sets, nil
}

// writes binds the group's bindings in declared order. Uniform bindings take the next
// buffer; bindings that share a buffer get successive offset slices of it.
// Sampler bindings take the next texture.
func (b *Binder) writes(group Group, set *Set) ([]core1_0.WriteDescriptorSet, error) {
	uniforms := group.count(core1_0.DescriptorTypeUniformBuffer)
	samplers := group.count(core1_0.DescriptorTypeCombinedImageSampler)

	if len(set.Buffers) != uniforms || len(set.Textures) != samplers {
		return nil, errors.Wrapf(ErrBindingMismatch, "group %q declares %d uniform buffers and %d textures, got %d and %d",
			group.Name, uniforms, samplers, len(set.Buffers), len(set.Textures))
	}

	writes := make([]core1_0.WriteDescriptorSet, 0, len(group.Bindings))
	bufferIndex := 0
	textureIndex := 0
	offsets := make(map[*resource.Buffer]int)

	for idx, binding := range group.Bindings {
		write := core1_0.WriteDescriptorSet{
			DstSet:          set.Handle,
			DstBinding:      idx,
			DstArrayElement: 0,
			DescriptorType:  binding.Type,
		}

		switch binding.Type {
		case core1_0.DescriptorTypeUniformBuffer:
			buffer := set.Buffers[bufferIndex]
			bufferIndex++
			if buffer == nil {
				return nil, errors.Wrapf(ErrBindingMismatch, "group %q binding %d: nil buffer", group.Name, idx)
			}

			offset := offsets[buffer]
			size := binding.Size
			if size == 0 {
				size = buffer.Size - offset
			}

			if size <= 0 || offset+size > buffer.Size {
				return nil, errors.Wrapf(ErrBindingMismatch, "group %q binding %d: range [%d, %d) outside %d-byte buffer",
					group.Name, idx, offset, offset+size, buffer.Size)
			}

			write.BufferInfo = []core1_0.DescriptorBufferInfo{
				{
					Buffer: buffer.Handle,
					Offset: offset,
					Range:  size,
				},
			}
			offsets[buffer] = offset + size

		case core1_0.DescriptorTypeCombinedImageSampler:
			texture := set.Textures[textureIndex]
			textureIndex++
			if texture == nil || texture.Image == nil {
				return nil, errors.Wrapf(ErrBindingMismatch, "group %q binding %d: nil texture", group.Name, idx)
			}

			write.ImageInfo = []core1_0.DescriptorImageInfo{
				{
					ImageView:   texture.Image.View,
					Sampler:     texture.Sampler,
					ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
				},
			}
		}

		writes = append(writes, write)
	}

	return writes, nil
}

// Reset rebuilds the pool for a new chain image count. Static sets are reallocated and
// rewritten in place, so callers holding a *Set see the new handle. Per-frame sets are
// dropped and must be created again with CreateFrameSets.
func (b *Binder) Reset(imageCount int) error {
	b.alloc.DestroyPool()
	b.imageCount = imageCount

	err := b.createPool()
	if err != nil {
		return err
	}

	var writes []core1_0.WriteDescriptorSet
	for _, state := range b.groups {
		state.allocated = 0
		if state.group.Frequency == PerFrame {
			state.sets = nil
			continue
		}

		if len(state.sets) == 0 {
			continue
		}

		handles, err := b.alloc.Allocate(state.layout, len(state.sets))
		if err != nil {
			return errors.Wrapf(err, "reallocate sets for group %q", state.group.Name)
		}
		state.allocated = len(state.sets)

		for idx, set := range state.sets {
			set.Handle = handles[idx]
			setWrites, err := b.writes(state.group, set)
			if err != nil {
				return err
			}
			writes = append(writes, setWrites...)
		}
	}

	if len(writes) > 0 {
		err = b.alloc.Update(writes)
		if err != nil {
			return errors.Wrap(err, "rebind static sets")
		}
	}

	b.logger.Debug("reset descriptor pool", slog.Int("imageCount", imageCount))
	return nil
}

// Destroy releases the pool (and with it every set) and the layouts.
func (b *Binder) Destroy() {
	b.alloc.DestroyPool()

	for _, state := range b.groups {
		b.alloc.DestroyLayout(state.layout)
		state.sets = nil
	}
	b.groups = nil
	b.byName = map[string]*groupState{}
}
