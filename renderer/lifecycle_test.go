package renderer

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/core/v3/loader"
	"github.com/vkngwrapper/renderloop/commands"
	"github.com/vkngwrapper/renderloop/descriptor"
	"github.com/vkngwrapper/renderloop/pipeline"
	"github.com/vkngwrapper/renderloop/swapchain"
	"golang.org/x/exp/slog"
)

type fakeSetAllocator struct {
	pools      []int
	nextHandle int
}

func (a *fakeSetAllocator) CreateLayout([]core1_0.DescriptorSetLayoutBinding) (core1_0.DescriptorSetLayout, error) {
	return core1_0.DescriptorSetLayout{}, nil
}

func (a *fakeSetAllocator) DestroyLayout(core1_0.DescriptorSetLayout) {}

func (a *fakeSetAllocator) CreatePool(maxSets int, _ []core1_0.DescriptorPoolSize) error {
	a.pools = append(a.pools, maxSets)
	return nil
}

func (a *fakeSetAllocator) DestroyPool() {}

func (a *fakeSetAllocator) Allocate(_ core1_0.DescriptorSetLayout, count int) ([]core1_0.DescriptorSet, error) {
	handles := make([]core1_0.DescriptorSet, 0, count)
	for i := 0; i < count; i++ {
		a.nextHandle++
		handles = append(handles, core1_0.InternalDescriptorSet(0, 0, loader.VkDescriptorSet(a.nextHandle), common.Vulkan1_0))
	}
	return handles, nil
}

func (a *fakeSetAllocator) Update([]core1_0.WriteDescriptorSet) error {
	return nil
}

type countingDriver struct {
	begins, ends int
}

func (d *countingDriver) BeginCommandBuffer(core1_0.CommandBuffer, core1_0.CommandBufferBeginInfo) (common.VkResult, error) {
	d.begins++
	return core1_0.VKSuccess, nil
}

func (d *countingDriver) EndCommandBuffer(core1_0.CommandBuffer) (common.VkResult, error) {
	d.ends++
	return core1_0.VKSuccess, nil
}

// fakeBackend hands out chains with scripted image counts and logs every lifecycle call.
type fakeBackend struct {
	events      []string
	imageCounts []int
	chains      int

	alloc  *fakeSetAllocator
	driver *countingDriver
	bound  []*descriptor.Set

	beginErr error
}

func newFakeBackend(imageCounts ...int) *fakeBackend {
	return &fakeBackend{
		imageCounts: imageCounts,
		alloc:       &fakeSetAllocator{},
		driver:      &countingDriver{},
	}
}

func (b *fakeBackend) newChain() (*swapchain.Chain, error) {
	count := b.imageCounts[min(b.chains, len(b.imageCounts)-1)]
	b.chains++
	b.events = append(b.events, "new chain")

	return &swapchain.Chain{
		Images:     make([]core1_0.Image, count),
		Extent:     core1_0.Extent2D{Width: 800, Height: 600},
		Generation: uuid.New(),
	}, nil
}

func (b *fakeBackend) destroyChain(*swapchain.Chain) {
	b.events = append(b.events, "destroy chain")
}

func (b *fakeBackend) newBinder(groups []descriptor.Group, imageCount int) (*descriptor.Binder, error) {
	b.events = append(b.events, "new binder")
	return descriptor.NewWithAllocator(b.alloc, groups, imageCount, nil)
}

func (b *fakeBackend) buildPipeline(chain *swapchain.Chain, _ []core1_0.DescriptorSetLayout) (*pipeline.Pipeline, error) {
	b.events = append(b.events, "build pipeline")
	return &pipeline.Pipeline{Extent: chain.Extent}, nil
}

func (b *fakeBackend) destroyPipeline(*pipeline.Pipeline) {
	b.events = append(b.events, "destroy pipeline")
}

func (b *fakeBackend) allocateCommands(count int) (*commands.Set, error) {
	b.events = append(b.events, "allocate commands")
	return commands.NewSet(b.driver, make([]core1_0.CommandBuffer, count)), nil
}

func (b *fakeBackend) freeCommands(*commands.Set) {
	b.events = append(b.events, "free commands")
}

func (b *fakeBackend) beginPass(*pipeline.Pipeline, core1_0.CommandBuffer, int) error {
	b.events = append(b.events, "begin pass")
	return b.beginErr
}

func (b *fakeBackend) bindFrameSet(_ *pipeline.Pipeline, _ core1_0.CommandBuffer, _ int, set *descriptor.Set) {
	b.events = append(b.events, "bind frame set")
	b.bound = append(b.bound, set)
}

func (b *fakeBackend) endPass(*pipeline.Pipeline, core1_0.CommandBuffer) {
	b.events = append(b.events, "end pass")
}

type recordingScene struct {
	rebuilds   []int
	recorded   []int
	updated    []int
	recordErr  error
	rebuildErr error
}

func (s *recordingScene) UpdateUniforms(imageIndex int, uniforms *Uniforms) error {
	s.updated = append(s.updated, imageIndex)
	return uniforms.Write(0, make([]byte, 192))
}

func (s *recordingScene) RecordCommands(_ *pipeline.Pipeline, imageIndex int, _ core1_0.CommandBuffer) error {
	s.recorded = append(s.recorded, imageIndex)
	return s.recordErr
}

func (s *recordingScene) ChainRebuilt(imageCount int) error {
	s.rebuilds = append(s.rebuilds, imageCount)
	return s.rebuildErr
}

func testGroups() []descriptor.Group {
	return []descriptor.Group{
		{Name: "camera", Frequency: descriptor.PerFrame, Bindings: []descriptor.Binding{uniformBinding}},
		{
			Name:      "material",
			Frequency: descriptor.Static,
			Instances: 1,
			Bindings: []descriptor.Binding{
				{Type: core1_0.DescriptorTypeCombinedImageSampler, Stages: core1_0.StageFragment},
			},
		},
	}
}

// newTestRenderer builds a renderer over backend the same way New does once the device
// exists, then clears the event log.
func newTestRenderer(t *testing.T, backend *fakeBackend, scene Scene) (*Renderer, *memoryDevice) {
	groups := testGroups()
	frameGroup, err := resolveFrameGroup(groups, "camera")
	require.NoError(t, err)

	dev := newMemoryDevice()
	r := &Renderer{
		opts:       Options{Groups: groups, FrameGroup: "camera"},
		logger:     slog.Default(),
		frameGroup: frameGroup,
		backend:    backend,
		buffers:    dev,
	}
	if scene != nil {
		r.SetScene(scene)
	}

	require.NoError(t, r.createChain())
	backend.events = nil
	return r, dev
}

func TestCreateChainOrder(t *testing.T) {
	backend := newFakeBackend(3)

	groups := testGroups()
	frameGroup, err := resolveFrameGroup(groups, "camera")
	require.NoError(t, err)

	dev := newMemoryDevice()
	r := &Renderer{opts: Options{Groups: groups, FrameGroup: "camera"}, logger: slog.Default(), frameGroup: frameGroup, backend: backend, buffers: dev}
	require.NoError(t, r.createChain())

	require.Equal(t, []string{"new chain", "new binder", "build pipeline", "allocate commands"}, backend.events)
	require.Equal(t, 3, r.ImageCount())
	require.Len(t, r.frameSets, 3)
	require.Len(t, dev.contents, 3)
	require.Equal(t, 3, r.commands.Len())
	require.Equal(t, []int{3 + 1}, backend.alloc.pools)
}

func TestRebuildOrder(t *testing.T) {
	backend := newFakeBackend(3)
	scene := &recordingScene{}
	r, dev := newTestRenderer(t, backend, scene)

	generation := r.Generation()
	frameSets := append([]*descriptor.Set(nil), r.frameSets...)

	require.NoError(t, r.Rebuild())
	require.Equal(t, []string{
		"free commands", "destroy pipeline", "destroy chain",
		"new chain", "build pipeline", "allocate commands",
	}, backend.events)

	require.NotEqual(t, generation, r.Generation())
	require.Equal(t, []int{3}, scene.rebuilds)

	// Same image count: the pool and the per-frame sets survive
	require.Len(t, backend.alloc.pools, 1)
	require.Equal(t, frameSets, r.frameSets)
	require.Len(t, dev.contents, 3)
}

func TestRebuildImageCountChange(t *testing.T) {
	backend := newFakeBackend(3, 4)
	scene := &recordingScene{}
	r, dev := newTestRenderer(t, backend, scene)

	oldBuffers := r.uniforms.buffers

	require.NoError(t, r.Rebuild())
	require.Equal(t, 4, r.ImageCount())
	require.Equal(t, []int{4}, scene.rebuilds)
	require.NotContains(t, backend.events, "new binder")

	require.Equal(t, 4, r.binder.ImageCount())
	require.Equal(t, []int{3 + 1, 4 + 1}, backend.alloc.pools)
	require.Len(t, r.frameSets, 4)
	require.Equal(t, 4, r.commands.Len())

	require.Len(t, dev.contents, 4)
	for _, perImage := range oldBuffers {
		require.NotContains(t, dev.contents, perImage[0])
	}

	handles := map[loader.VkDescriptorSet]bool{}
	for _, set := range r.frameSets {
		handles[set.Handle.Handle()] = true
	}
	require.Len(t, handles, 4)

	// The new last image has a set, a uniform buffer and a command buffer
	require.NoError(t, r.UpdateUniforms(3))
	require.NoError(t, r.Record(3))
	require.Equal(t, []int{3}, scene.updated)
	require.Equal(t, []int{3}, scene.recorded)
	require.Same(t, r.frameSets[3], backend.bound[0])
}

func TestRebuildReportsSceneFailure(t *testing.T) {
	backend := newFakeBackend(2, 3)
	scene := &recordingScene{rebuildErr: errors.New("lost per-frame sets")}
	r, _ := newTestRenderer(t, backend, scene)

	err := r.Rebuild()
	require.ErrorIs(t, err, scene.rebuildErr)
	require.Equal(t, []int{3}, scene.rebuilds)
	require.NotNil(t, r.pipeline)
	require.NotNil(t, r.commands)
}

func TestRebuildWithoutScene(t *testing.T) {
	backend := newFakeBackend(2, 3)
	r, _ := newTestRenderer(t, backend, nil)

	require.NoError(t, r.Rebuild())
	require.Equal(t, 3, r.ImageCount())
}

func TestRecordBindsFrameSet(t *testing.T) {
	backend := newFakeBackend(3)
	scene := &recordingScene{}
	r, _ := newTestRenderer(t, backend, scene)

	require.NoError(t, r.Record(1))
	require.Equal(t, []string{"begin pass", "bind frame set", "end pass"}, backend.events)
	require.Same(t, r.frameSets[1], backend.bound[0])
	require.Equal(t, 1, backend.driver.begins)
	require.Equal(t, 1, backend.driver.ends)
	require.Equal(t, -1, r.commands.Recording())
}

func TestRecordEndsOnSceneError(t *testing.T) {
	backend := newFakeBackend(3)
	scene := &recordingScene{recordErr: errors.New("draw failed")}
	r, _ := newTestRenderer(t, backend, scene)

	err := r.Record(1)
	require.ErrorIs(t, err, scene.recordErr)
	require.Equal(t, []string{"begin pass", "bind frame set", "end pass"}, backend.events)
	require.Equal(t, 1, backend.driver.ends)
	require.Equal(t, -1, r.commands.Recording())

	// Nothing is left recording, so the next image begins cleanly
	scene.recordErr = nil
	require.NoError(t, r.Record(2))
	require.Equal(t, 2, backend.driver.ends)
}

func TestRecordEndsOnPassError(t *testing.T) {
	backend := newFakeBackend(3)
	backend.beginErr = errors.New("framebuffer missing")
	scene := &recordingScene{}
	r, _ := newTestRenderer(t, backend, scene)

	err := r.Record(0)
	require.ErrorIs(t, err, backend.beginErr)
	require.Empty(t, scene.recorded)
	require.Equal(t, 1, backend.driver.ends)
	require.Equal(t, -1, r.commands.Recording())
}

func TestCloseOrder(t *testing.T) {
	backend := newFakeBackend(3)
	r, dev := newTestRenderer(t, backend, &recordingScene{})

	r.Close()
	require.Equal(t, []string{"free commands", "destroy pipeline", "destroy chain"}, backend.events)
	require.Empty(t, dev.contents)
	require.Nil(t, r.binder)
	require.Equal(t, uuid.Nil, r.Generation())

	// A second close has nothing left to release
	backend.events = nil
	r.Close()
	require.Empty(t, backend.events)
}
