package agent

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// MemorySampler reports how much memory the host can currently give us.
// Sampling happens off the scheduler loop; the loop only consumes numbers.
type MemorySampler interface {
	AvailableMB() (int64, error)
}

// meminfoSampler reads MemAvailable from /proc/meminfo.
type meminfoSampler struct {
	path string
}

// NewMemorySampler returns the host sampler.
func NewMemorySampler() MemorySampler {
	return &meminfoSampler{path: "/proc/meminfo"}
}

func (s *meminfoSampler) AvailableMB() (int64, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", s.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse MemAvailable: %w", err)
		}
		return kb / 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	return 0, fmt.Errorf("MemAvailable not present in %s", s.path)
}

// computeBudgetMB derives the admission budget from sampled available
// memory: available × safetyFactor − osReserved, floored at zero.
func computeBudgetMB(availableMB int64, safetyFactor float64, osReservedMB int64) int64 {
	budget := int64(float64(availableMB)*safetyFactor) - osReservedMB
	if budget < 0 {
		return 0
	}
	return budget
}

// effectiveSlots bounds concurrency by what the budget can hold:
// min(maxSlots, floor(budget / p50)), at least 1 while any budget remains.
// With no tasks to take a median over, the configured maximum stands.
func effectiveSlots(maxSlots int, budgetMB, p50MB int64) int {
	if budgetMB <= 0 {
		return 0
	}
	if p50MB <= 0 {
		return maxSlots
	}
	slots := int(budgetMB / p50MB)
	if slots < 1 {
		slots = 1
	}
	if slots > maxSlots {
		slots = maxSlots
	}
	return slots
}

// p50EstimateMB returns the median of the given memory estimates, 0 for an
// empty set.
func p50EstimateMB(estimates []int64) int64 {
	if len(estimates) == 0 {
		return 0
	}
	sorted := make([]int64, len(estimates))
	copy(sorted, estimates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}
