package job

import (
	"fmt"
)

// AggregateStats sums the matrices of typeName over the given hosts and
// devices; nil selects all of them. Hosts without the type, and unknown
// hosts or devices, are skipped. It returns the sum with the number of
// hosts and devices that contributed.
func (j *Job) AggregateStats(typeName string, hosts, devices []string) (*Matrix, int, int, error) {
	s, ok := j.reg.Get(typeName)
	if !ok {
		return nil, 0, 0, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	sum := NewMatrix(len(j.times), s.Len())

	selected := j.hosts
	if hosts != nil {
		selected = make([]*host, 0, len(hosts))
		for _, name := range hosts {
			if h, ok := j.byName[name]; ok {
				selected = append(selected, h)
			}
		}
	}

	nrHosts, nrDevs := 0, 0
	for _, h := range selected {
		typeStats := h.stats[typeName]
		if len(typeStats) == 0 {
			continue
		}
		nrHosts++
		if devices == nil {
			for _, dev := range sortedKeys(typeStats) {
				sum.add(typeStats[dev])
				nrDevs++
			}
			continue
		}
		for _, dev := range devices {
			if m, ok := typeStats[dev]; ok {
				sum.add(m)
				nrDevs++
			}
		}
	}
	return sum, nrHosts, nrDevs, nil
}

// GetStats returns, per host, the column of key for one device of
// typeName. Hosts without that device are left out.
func (j *Job) GetStats(typeName, dev, key string) (map[string][]uint64, error) {
	s, ok := j.reg.Get(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typeName)
	}
	f, ok := s.Field(key)
	if !ok {
		return nil, fmt.Errorf("job: type %s has no key %s", typeName, key)
	}
	out := make(map[string][]uint64, len(j.hosts))
	for _, h := range j.hosts {
		if m, ok := h.stats[typeName][dev]; ok {
			out[h.name] = m.Column(f.Index)
		}
	}
	return out, nil
}

// HostStats returns the matrix of one host device.
func (j *Job) HostStats(hostName, typeName, dev string) (*Matrix, bool) {
	h, ok := j.byName[hostName]
	if !ok {
		return nil, false
	}
	m, ok := h.stats[typeName][dev]
	return m, ok
}
