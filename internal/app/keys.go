package app

import "github.com/nhle/teamboard/internal/keys"

// KeyMap is re-exported from the keys package for the root model.
type KeyMap = keys.KeyMap

// DefaultKeyMap delegates to keys.DefaultKeyMap.
func DefaultKeyMap() *KeyMap {
	return keys.DefaultKeyMap()
}
