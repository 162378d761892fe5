package container

import "github.com/cuemby/portod/pkg/portoerr"

// UseParentNamespace reports whether this container shares its
// parent's namespaces rather than isolating its own (spec.md §4.2):
// true iff `isolate` resolves to false.
func (c *Container) UseParentNamespace() bool {
	v, err := c.Get("isolate")
	if err != nil {
		return false
	}
	return !v.Bool
}

// GetChildrenSum sums property across c's children, skipping the
// container named excluded (used while validating a new value for a
// child that hasn't been stored yet — the caller supplies override in
// its place).
func (c *Container) GetChildrenSum(property, excluded string, override uint64) uint64 {
	var total uint64
	for _, child := range c.Children() {
		if child.Name() == excluded {
			total += override
			continue
		}
		v, err := child.Get(property)
		if err != nil {
			continue
		}
		total += v.Uint
	}
	return total
}

// ValidHierarchicalProperty reports whether value respects both the
// parent and children constraints for a hierarchical numeric property:
// guarantees must not exceed the parent's remaining budget and must
// cover at least the sum already committed by children; limits must
// not exceed the parent's limit.
func (c *Container) ValidHierarchicalProperty(name string, value uint64) bool {
	return c.checkHierarchicalMemory(name, value) == nil
}

// checkHierarchicalMemory enforces spec.md §3's invariant: for
// memory_guarantee, parent >= sum(children); for memory_limit,
// children <= parent. It also enforces the global cap: total committed
// guarantees plus the configured reserve must not exceed host memory.
func (c *Container) checkHierarchicalMemory(name string, value uint64) error {
	parent := c.ParentContainer()

	switch name {
	case "memory_guarantee":
		if parent != nil {
			parentLimit, _ := parent.Get("memory_guarantee")
			siblingSum := parent.GetChildrenSum("memory_guarantee", c.Name(), value)
			if parentLimit.Uint != 0 && siblingSum > parentLimit.Uint {
				return portoerr.New(portoerr.ResourceNotAvailable,
					"memory_guarantee %d exceeds parent %s budget (siblings already commit %d of %d)",
					value, parent.Name(), siblingSum-value, parentLimit.Uint)
			}
		}
		childSum := c.GetChildrenSum("memory_guarantee", "", 0)
		if value != 0 && value < childSum {
			return portoerr.New(portoerr.ResourceNotAvailable,
				"memory_guarantee %d is below children's committed sum %d", value, childSum)
		}
		if c.tree != nil {
			total := c.tree.SumMemoryGuarantees(c.Name(), value)
			if c.tree.hostMemory != 0 && total+c.tree.memReserve > c.tree.hostMemory {
				return portoerr.New(portoerr.ResourceNotAvailable,
					"total committed memory guarantees %d plus reserve %d exceeds host memory %d",
					total, c.tree.memReserve, c.tree.hostMemory)
			}
		}

	case "memory_limit":
		if parent != nil {
			parentLimit, _ := parent.Get("memory_limit")
			if parentLimit.Uint != 0 && value > parentLimit.Uint {
				return portoerr.New(portoerr.ResourceNotAvailable,
					"memory_limit %d exceeds parent %s limit %d", value, parent.Name(), parentLimit.Uint)
			}
		}
		for _, child := range c.Children() {
			childLimit, err := child.Get("memory_limit")
			if err != nil {
				continue
			}
			if value != 0 && childLimit.Uint > value {
				return portoerr.New(portoerr.ResourceNotAvailable,
					"memory_limit %d is below child %s's limit %d", value, child.Name(), childLimit.Uint)
			}
		}
	}
	return nil
}
