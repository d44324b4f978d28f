package math

import "math"

// GeographicTilingScheme maps equal-angle tiles onto an ellipsoid. Level zero has
// NumberOfLevelZeroTilesX × NumberOfLevelZeroTilesY tiles; each level doubles both counts.
// Tile Y grows from north to south.
type GeographicTilingScheme struct {
	Ellipsoid               *Ellipsoid
	Rectangle               Rectangle
	NumberOfLevelZeroTilesX int
	NumberOfLevelZeroTilesY int
}

// NewGeographicTilingScheme returns the standard two-by-one global scheme on the given ellipsoid.
func NewGeographicTilingScheme(e *Ellipsoid) *GeographicTilingScheme {
	if e == nil {
		e = WGS84
	}
	return &GeographicTilingScheme{
		Ellipsoid:               e,
		Rectangle:               MaxValue,
		NumberOfLevelZeroTilesX: 2,
		NumberOfLevelZeroTilesY: 1,
	}
}

// NumberOfXTilesAtLevel returns the tile count along X at level.
func (s *GeographicTilingScheme) NumberOfXTilesAtLevel(level int) int {
	return s.NumberOfLevelZeroTilesX << uint(level)
}

// NumberOfYTilesAtLevel returns the tile count along Y at level.
func (s *GeographicTilingScheme) NumberOfYTilesAtLevel(level int) int {
	return s.NumberOfLevelZeroTilesY << uint(level)
}

// TileXYToRectangle returns the geodetic extent of a tile.
func (s *GeographicTilingScheme) TileXYToRectangle(x, y, level int) Rectangle {
	xTiles := s.NumberOfXTilesAtLevel(level)
	yTiles := s.NumberOfYTilesAtLevel(level)

	tileWidth := s.Rectangle.Width() / float64(xTiles)
	tileHeight := s.Rectangle.Height() / float64(yTiles)

	west := s.Rectangle.West + float64(x)*tileWidth
	north := s.Rectangle.North - float64(y)*tileHeight
	return Rectangle{
		West:  west,
		South: north - tileHeight,
		East:  west + tileWidth,
		North: north,
	}
}

// PositionToTileXY returns the tile containing a position, or false when it is outside the scheme.
func (s *GeographicTilingScheme) PositionToTileXY(c Cartographic, level int) (x, y int, ok bool) {
	if !s.Rectangle.Contains(c) {
		return 0, 0, false
	}
	xTiles := s.NumberOfXTilesAtLevel(level)
	yTiles := s.NumberOfYTilesAtLevel(level)

	tileWidth := s.Rectangle.Width() / float64(xTiles)
	tileHeight := s.Rectangle.Height() / float64(yTiles)

	lon := c.Longitude
	if s.Rectangle.East < s.Rectangle.West {
		lon += TwoPi
	}
	x = int(math.Floor((lon - s.Rectangle.West) / tileWidth))
	if x >= xTiles {
		x = xTiles - 1
	}
	y = int(math.Floor((s.Rectangle.North - c.Latitude) / tileHeight))
	if y >= yTiles {
		y = yTiles - 1
	}
	return x, y, true
}
