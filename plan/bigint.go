package plan

import (
	"math/big"
	"strconv"

	"gopkg.in/yaml.v3"
)

// quoteBigInts retags plain integer scalars that do not fit 64 bits as strings, so that they
// decode as decimal strings instead of lossy float64 values. It reports whether a node changed.
func quoteBigInts(n *yaml.Node) bool {
	if n.Kind == yaml.ScalarNode {
		tag := n.ShortTag()
		if (tag == "!!int" || tag == "!!float") && overflows64(n.Value) {
			n.Tag = "!!str"
			return true
		}

		return false
	}

	changed := false
	for _, c := range n.Content {
		if quoteBigInts(c) {
			changed = true
		}
	}

	return changed
}

// overflows64 reports whether s is an integer literal outside both the int64 and uint64 ranges.
func overflows64(s string) bool {
	if _, ok := new(big.Int).SetString(s, 0); !ok {
		return false
	}
	if _, err := strconv.ParseInt(s, 0, 64); err == nil {
		return false
	}
	_, err := strconv.ParseUint(s, 0, 64)

	return err != nil
}
