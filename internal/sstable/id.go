package sstable

import "fmt"

// ID is a 128-bit SST identifier: (node_id << 64) | seq_id, unique per
// process generation.
type ID struct {
	NodeID uint64
	SeqID  uint64
}

// String renders an ID as "<hex_node>_<hex_seq>", the path component
// used for <root>/<sst_id>.data and <root>/<sst_id>.meta.
func (id ID) String() string {
	return fmt.Sprintf("%x_%x", id.NodeID, id.SeqID)
}

// DataPath returns the object-store path of id's data file.
func (id ID) DataPath(root string) string {
	return root + "/" + id.String() + ".data"
}

// MetaPath returns the object-store path of id's meta file.
func (id ID) MetaPath(root string) string {
	return root + "/" + id.String() + ".meta"
}
