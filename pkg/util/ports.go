package util

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParsePortList expands a port list specification into sorted, unique
// port numbers. Accepts "1-2", "1,2" and mixed forms such as "1-3,5".
func ParsePortList(spec string) ([]uint32, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	var ports []uint32
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := parsePort(lo)
			if err != nil {
				return nil, fmt.Errorf("invalid start value in range %s: %w", part, err)
			}
			end, err := parsePort(hi)
			if err != nil {
				return nil, fmt.Errorf("invalid end value in range %s: %w", part, err)
			}
			if start > end {
				return nil, fmt.Errorf("start value %d greater than end value %d in range %s", start, end, part)
			}
			for p := start; p <= end; p++ {
				ports = append(ports, p)
			}
			continue
		}

		p, err := parsePort(part)
		if err != nil {
			return nil, fmt.Errorf("invalid port: %s", part)
		}
		ports = append(ports, p)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return dedupPorts(ports), nil
}

// FormatPortList compacts ports into range notation: [1 2 3 5] -> "1-3,5".
func FormatPortList(ports []uint32) string {
	if len(ports) == 0 {
		return ""
	}

	sorted := make([]uint32, len(ports))
	copy(sorted, ports)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	sorted = dedupPorts(sorted)

	var parts []string
	start, end := sorted[0], sorted[0]
	for _, p := range sorted[1:] {
		if p == end+1 {
			end = p
			continue
		}
		parts = append(parts, formatPortRange(start, end))
		start, end = p, p
	}
	parts = append(parts, formatPortRange(start, end))

	return strings.Join(parts, ",")
}

func parsePort(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, fmt.Errorf("port 0 is not a valid switch port")
	}
	return uint32(v), nil
}

func formatPortRange(start, end uint32) string {
	if start == end {
		return strconv.FormatUint(uint64(start), 10)
	}
	return fmt.Sprintf("%d-%d", start, end)
}

func dedupPorts(sorted []uint32) []uint32 {
	if len(sorted) == 0 {
		return sorted
	}
	out := []uint32{sorted[0]}
	for _, p := range sorted[1:] {
		if p != out[len(out)-1] {
			out = append(out, p)
		}
	}
	return out
}
