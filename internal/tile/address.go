package tile

import (
	"fmt"

	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the deepest zoom level accepted at the request boundary.
const MaxZoom = 30

// Address identifies a tile in the request layer's row convention.
type Address struct {
	Zoom   uint32
	Column uint32
	Row    uint32
}

// StoredAddress is an Address with the row flipped to the MBTiles (TMS)
// convention. It only exists at the store boundary.
type StoredAddress struct {
	Zoom   uint32
	Column uint32
	Row    uint32
}

func NewAddress(z, x, y uint32) Address {
	return Address{Zoom: z, Column: x, Row: y}
}

// FromMapTile converts an orb map tile into an Address.
func FromMapTile(t maptile.Tile) Address {
	return Address{Zoom: uint32(t.Z), Column: t.X, Row: t.Y}
}

func (a Address) MapTile() maptile.Tile {
	return maptile.New(a.Column, a.Row, maptile.Zoom(a.Zoom))
}

// Valid reports whether column and row fall inside the grid of the zoom level.
func (a Address) Valid() bool {
	if a.Zoom > MaxZoom {
		return false
	}
	n := uint32(1) << a.Zoom
	return a.Column < n && a.Row < n
}

func (a Address) String() string {
	return fmt.Sprintf("%d/%d/%d", a.Zoom, a.Column, a.Row)
}

// ToStored flips the row into the stored convention: row' = 2^zoom - 1 - row.
func ToStored(a Address) StoredAddress {
	return StoredAddress{Zoom: a.Zoom, Column: a.Column, Row: flipRow(a.Zoom, a.Row)}
}

// ToRequest is the inverse of ToStored. The flip is an involution.
func ToRequest(s StoredAddress) Address {
	return Address{Zoom: s.Zoom, Column: s.Column, Row: flipRow(s.Zoom, s.Row)}
}

func flipRow(zoom, row uint32) uint32 {
	return (uint32(1)<<zoom - 1) - row
}
