package guardian

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// HostSampler reads available memory from the operating system.
type HostSampler struct{}

// AvailableBytes returns the memory available to new processes.
func (HostSampler) AvailableBytes(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("virtual memory: %w", err)
	}
	return vm.Available, nil
}
