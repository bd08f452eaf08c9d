package parser

import (
	"reflect"
)

const placeholderKey = "_placeholder"

// HasBinary reports whether the value tree contains at least one byte
// buffer.
func HasBinary(data any) bool {
	switch d := data.(type) {
	case nil:
		return false
	case []byte:
		return true
	case []any:
		for _, v := range d {
			if HasBinary(v) {
				return true
			}
		}
	case map[string]any:
		for _, v := range d {
			if HasBinary(v) {
				return true
			}
		}
	}
	return false
}

// DeconstructPacket extracts every byte buffer from the packet data in
// depth-first order, replacing each with a `{_placeholder: true, num: k}`
// sentinel, and sets Attachments to the buffer count. The input packet is
// not modified. Cyclic data is rejected.
func DeconstructPacket(packet *Packet) (*Packet, [][]byte, error) {
	buffers := [][]byte{}
	seen := map[uintptr]struct{}{}
	data, err := deconstructData(packet.Data, &buffers, seen)
	if err != nil {
		return nil, nil, err
	}
	pack := *packet
	pack.Data = data
	attachments := uint64(len(buffers))
	pack.Attachments = &attachments
	return &pack, buffers, nil
}

func deconstructData(data any, buffers *[][]byte, seen map[uintptr]struct{}) (any, error) {
	switch d := data.(type) {
	case []byte:
		placeholder := map[string]any{placeholderKey: true, "num": uint64(len(*buffers))}
		*buffers = append(*buffers, d)
		return placeholder, nil
	case []any:
		ptr := reflect.ValueOf(d).Pointer()
		if _, ok := seen[ptr]; ok {
			return nil, NewProtocolError("circular reference in packet data")
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)
		newData := make([]any, len(d))
		for i, v := range d {
			el, err := deconstructData(v, buffers, seen)
			if err != nil {
				return nil, err
			}
			newData[i] = el
		}
		return newData, nil
	case map[string]any:
		ptr := reflect.ValueOf(d).Pointer()
		if _, ok := seen[ptr]; ok {
			return nil, NewProtocolError("circular reference in packet data")
		}
		seen[ptr] = struct{}{}
		defer delete(seen, ptr)
		newData := make(map[string]any, len(d))
		for k, v := range d {
			el, err := deconstructData(v, buffers, seen)
			if err != nil {
				return nil, err
			}
			newData[k] = el
		}
		return newData, nil
	}
	return data, nil
}

// ReconstructPacket restores the byte buffers at every placeholder
// position, clearing Attachments.
func ReconstructPacket(packet *Packet, buffers [][]byte) (*Packet, error) {
	data, err := reconstructData(packet.Data, buffers)
	if err != nil {
		return nil, err
	}
	pack := *packet
	pack.Data = data
	pack.Attachments = nil
	return &pack, nil
}

func reconstructData(data any, buffers [][]byte) (any, error) {
	switch d := data.(type) {
	case []any:
		for i, v := range d {
			el, err := reconstructData(v, buffers)
			if err != nil {
				return nil, err
			}
			d[i] = el
		}
		return d, nil
	case map[string]any:
		if isPlaceholder(d) {
			num, ok := placeholderNum(d["num"])
			if !ok || num >= uint64(len(buffers)) {
				return nil, NewProtocolError("illegal attachment index")
			}
			return buffers[num], nil
		}
		for k, v := range d {
			el, err := reconstructData(v, buffers)
			if err != nil {
				return nil, err
			}
			d[k] = el
		}
		return d, nil
	}
	return data, nil
}

func isPlaceholder(m map[string]any) bool {
	flag, ok := m[placeholderKey].(bool)
	return ok && flag && len(m) == 2
}

func placeholderNum(v any) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != float64(uint64(n)) {
			return 0, false
		}
		return uint64(n), true
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	}
	return 0, false
}
