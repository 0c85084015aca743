package sim

// Team identifies which side of the field an entity fights for.
type Team uint8

const (
	TeamUnset Team = iota
	TeamRed
	TeamBlue
	TeamOther
)

func (t Team) String() string {
	switch t {
	case TeamRed:
		return "red"
	case TeamBlue:
		return "blue"
	case TeamOther:
		return "other"
	default:
		return "unset"
	}
}

// TileState describes how a tile behaves.
type TileState uint8

const (
	TileNormal TileState = iota
	TileHidden
	TileBroken
)

// Tile is one cell of the battle field.
type Tile struct {
	State TileState `msgpack:"state"`
	Team  Team      `msgpack:"team"`
}

// Walkable reports whether an entity may stand on the tile.
func (t Tile) Walkable() bool {
	return t.State == TileNormal
}

const (
	// FieldCols includes the hidden border column on each side.
	FieldCols = 8
	// FieldRows includes the hidden border row on each side.
	FieldRows = 5
)

// Field is the tile grid. Tiles are stored row major.
type Field struct {
	Cols  int    `msgpack:"cols"`
	Rows  int    `msgpack:"rows"`
	Tiles []Tile `msgpack:"tiles"`
}

// NewField builds the default grid: a hidden border ring, the left half owned
// by red and the right half by blue.
func NewField() Field {
	field := Field{Cols: FieldCols, Rows: FieldRows, Tiles: make([]Tile, FieldCols*FieldRows)}
	for y := 0; y < field.Rows; y++ {
		for x := 0; x < field.Cols; x++ {
			tile := Tile{State: TileNormal, Team: TeamRed}
			if x >= field.Cols/2 {
				tile.Team = TeamBlue
			}
			if x == 0 || y == 0 || x == field.Cols-1 || y == field.Rows-1 {
				tile.State = TileHidden
			}
			field.Tiles[y*field.Cols+x] = tile
		}
	}
	return field
}

// Tile returns the tile at (x, y).
func (f *Field) Tile(x, y int) (Tile, bool) {
	if x < 0 || y < 0 || x >= f.Cols || y >= f.Rows {
		return Tile{}, false
	}
	return f.Tiles[y*f.Cols+x], true
}

// InBounds reports whether (x, y) lies on the visible grid.
func (f *Field) InBounds(x, y int) bool {
	tile, ok := f.Tile(x, y)
	return ok && tile.State != TileHidden
}

// Clone deep copies the field.
func (f Field) Clone() Field {
	cloned := f
	cloned.Tiles = append([]Tile(nil), f.Tiles...)
	return cloned
}

// Default spawn layouts in visible tile coordinates, mirrored for odd player
// indices.
var defaultPlayerLayouts = [...][2]int{
	{2, 2}, // center
	{1, 3}, // bottom left
	{1, 1}, // top left
	{3, 3}, // bottom right
	{3, 1}, // top right
	{1, 2}, // back
	{3, 2}, // front
	{2, 1}, // top
	{2, 3}, // bottom
}

// SpawnPosition returns the starting tile and team for a player index.
func (f *Field) SpawnPosition(index int) (int, int, Team) {
	layout := defaultPlayerLayouts[(index/2)%len(defaultPlayerLayouts)]
	x, y := layout[0], layout[1]
	if index%2 == 1 {
		return f.Cols - x - 1, y, TeamBlue
	}
	return x, y, TeamRed
}
