package artifact

import (
	"github.com/vmihailenco/msgpack/v5"
)

// clusterCheckpoint is the Clustering Monitor's crash-recovery snapshot:
// compact enough to write every batch without becoming the bottleneck,
// and not part of the schema-validated artifact set (a future resume
// tool would read it, but nothing in this run reads it back).
type clusterCheckpoint struct {
	BatchNumber int         `msgpack:"batch_number"`
	Centroids   [][]float32 `msgpack:"centroids"`
	Members     []int       `msgpack:"members"`
}

// writeClusterCheckpoint msgpack-encodes the monitor's current
// centroid/member-count state and writes it atomically to
// clusters/online.checkpoint.msgpack.
func writeClusterCheckpoint(path string, batchNumber int, centroids [][]float32, members []int) error {
	b, err := msgpack.Marshal(clusterCheckpoint{BatchNumber: batchNumber, Centroids: centroids, Members: members})
	if err != nil {
		return err
	}
	return writeFileAtomic(path, b)
}
