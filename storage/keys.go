package storage

import "encoding/binary"

// EncodeUint64 big-endian encodes v so lexicographic byte order matches
// numeric order, per spec.md §6's key-joining scheme.
func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// DecodeUint64 reverses EncodeUint64.
func DecodeUint64(b []byte) uint64 {
	if len(b) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// JoinKey concatenates a namespace prefix with one or more key segments,
// each followed by a '/' separator so composite keys stay unambiguous
// regardless of segment length.
func JoinKey(namespace string, segments ...[]byte) []byte {
	out := make([]byte, 0, len(namespace)+1)
	out = append(out, []byte(namespace)...)
	out = append(out, '/')
	for _, seg := range segments {
		out = append(out, seg...)
		out = append(out, '/')
	}
	return out
}

// IndexNamespace builds the secondary-index namespace name per spec.md §6:
// "{namespace}__{index_name}".
func IndexNamespace(namespace, indexName string) string {
	return namespace + "__" + indexName
}
