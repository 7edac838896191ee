package table

import (
	"github.com/interstice-network/interstice-core/internal/codec"
	"github.com/interstice-network/interstice-core/internal/value"
)

// encodeKey canonicalizes a primary-key Value into index-comparable
// bytes, reusing the same encoding the wire/log codec uses so that
// value.Equal keys always collide to the same index entry.
func encodeKey(v value.Value) []byte {
	return codec.Encode(v)
}
