package job

import (
	"sort"

	"github.com/tinytelemetry/hpcjob/internal/model"
)

// Overflows records, per type, device and key, the hosts whose counter
// rolled over in a way no correction explains. Totals of those metrics are
// unreliable for the listed hosts.
type Overflows struct {
	m map[string]map[string]map[string]map[string]struct{}
}

func newOverflows() *Overflows {
	return &Overflows{m: make(map[string]map[string]map[string]map[string]struct{})}
}

// Add records host against typeName/dev/key.
func (o *Overflows) Add(host, typeName, dev, key string) {
	devs, ok := o.m[typeName]
	if !ok {
		devs = make(map[string]map[string]map[string]struct{})
		o.m[typeName] = devs
	}
	keys, ok := devs[dev]
	if !ok {
		keys = make(map[string]map[string]struct{})
		devs[dev] = keys
	}
	hosts, ok := keys[key]
	if !ok {
		hosts = make(map[string]struct{})
		keys[key] = hosts
	}
	hosts[host] = struct{}{}
}

// Hosts returns the hosts recorded for typeName/dev/key, sorted.
func (o *Overflows) Hosts(typeName, dev, key string) []string {
	return sortedKeys(o.m[typeName][dev][key])
}

// Has reports whether host overflowed typeName/dev/key.
func (o *Overflows) Has(host, typeName, dev, key string) bool {
	_, ok := o.m[typeName][dev][key][host]
	return ok
}

// Len returns the number of distinct type/device/key entries.
func (o *Overflows) Len() int {
	n := 0
	for _, devs := range o.m {
		for _, keys := range devs {
			n += len(keys)
		}
	}
	return n
}

// List flattens the registry, ordered by type, device and key.
func (o *Overflows) List() []model.Overflow {
	var out []model.Overflow
	for _, t := range sortedKeys(o.m) {
		devs := o.m[t]
		for _, d := range sortedKeys(devs) {
			keys := devs[d]
			for _, k := range sortedKeys(keys) {
				out = append(out, model.Overflow{Type: t, Device: d, Key: k, Hosts: sortedKeys(keys[k])})
			}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
