// Package reconcile keeps the local cache and the remote store converging.
package reconcile

// Merge combines a local and a remote copy of one collection. The result is
// the remote records in remote order followed by the local records the
// remote does not have, in local order. For ids on both sides the remote
// version wins. added holds the carried-forward local records.
func Merge[T any](local, remote []T, id func(T) string) (merged, added []T) {
	known := make(map[string]bool, len(remote))
	merged = make([]T, 0, len(remote)+len(local))
	for _, r := range remote {
		if known[id(r)] {
			continue
		}
		known[id(r)] = true
		merged = append(merged, r)
	}
	for _, l := range local {
		if known[id(l)] {
			continue
		}
		known[id(l)] = true
		merged = append(merged, l)
		added = append(added, l)
	}
	return merged, added
}
