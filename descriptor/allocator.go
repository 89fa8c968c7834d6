package descriptor

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// Allocator is the device side of a Binder: layouts, the one pool and the sets in it.
type Allocator interface {
	CreateLayout(bindings []core1_0.DescriptorSetLayoutBinding) (core1_0.DescriptorSetLayout, error)
	DestroyLayout(layout core1_0.DescriptorSetLayout)
	CreatePool(maxSets int, sizes []core1_0.DescriptorPoolSize) error
	DestroyPool()
	Allocate(layout core1_0.DescriptorSetLayout, count int) ([]core1_0.DescriptorSet, error)
	Update(writes []core1_0.WriteDescriptorSet) error
}

type vulkanAllocator struct {
	driver core1_0.CoreDeviceDriver
	pool   core1_0.DescriptorPool
}

func (a *vulkanAllocator) CreateLayout(bindings []core1_0.DescriptorSetLayoutBinding) (core1_0.DescriptorSetLayout, error) {
	layout, _, err := a.driver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: bindings,
	})
	return layout, err
}

func (a *vulkanAllocator) DestroyLayout(layout core1_0.DescriptorSetLayout) {
	if layout.Initialized() {
		a.driver.DestroyDescriptorSetLayout(layout, nil)
	}
}

func (a *vulkanAllocator) CreatePool(maxSets int, sizes []core1_0.DescriptorPoolSize) error {
	pool, _, err := a.driver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets:   maxSets,
		PoolSizes: sizes,
	})
	if err != nil {
		return err
	}

	a.pool = pool
	return nil
}

func (a *vulkanAllocator) DestroyPool() {
	if a.pool.Initialized() {
		a.driver.DestroyDescriptorPool(a.pool, nil)
		a.pool = core1_0.DescriptorPool{}
	}
}

func (a *vulkanAllocator) Allocate(layout core1_0.DescriptorSetLayout, count int) ([]core1_0.DescriptorSet, error) {
	if !a.pool.Initialized() {
		return nil, errors.Wrap(ErrPoolExhausted, "no descriptor pool")
	}

	layouts := make([]core1_0.DescriptorSetLayout, count)
	for i := range layouts {
		layouts[i] = layout
	}

	sets, _, err := a.driver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: a.pool,
		SetLayouts:     layouts,
	})
	return sets, err
}

func (a *vulkanAllocator) Update(writes []core1_0.WriteDescriptorSet) error {
	return a.driver.UpdateDescriptorSets(writes, nil)
}
