// Package model holds the data shapes exchanged between this adapter and
// the external planner/executor layer: keys, rows, index descriptors,
// sequences, and the directory-resolved storage description that binds a
// logical schema object to its packed key-space prefix.
package model

import "fmt"

// Segment is one typed, order-preserving component of a Key. Exactly one
// of the fields is meaningful, selected by Kind.
type SegmentKind uint8

const (
	SegmentNull SegmentKind = iota
	SegmentInt
	SegmentString
	SegmentBytes
)

type Segment struct {
	Kind  SegmentKind
	Int   int64
	Str   string
	Bytes []byte
}

func IntSegment(v int64) Segment    { return Segment{Kind: SegmentInt, Int: v} }
func StringSegment(v string) Segment { return Segment{Kind: SegmentString, Str: v} }
func BytesSegment(v []byte) Segment  { return Segment{Kind: SegmentBytes, Bytes: v} }
func NullSegment() Segment           { return Segment{Kind: SegmentNull} }

// Edge marks a Key as carrying a synthetic BEFORE/AFTER sentinel segment
// appended past its real segments, used to build half-open scan ranges.
type Edge uint8

const (
	NoEdge Edge = iota
	BEFORE
	AFTER
)

// Key is a mutable, ordered, append-only sequence of segments. Depth is
// the number of real (non-edge) segments currently held.
type Key struct {
	Segments []Segment
	Edge     Edge
}

func NewKey(segs ...Segment) *Key {
	return &Key{Segments: append([]Segment{}, segs...)}
}

func (k *Key) Depth() int { return len(k.Segments) }

func (k *Key) Append(s Segment) *Key {
	k.Segments = append(k.Segments, s)
	return k
}

// Truncate sets the logical depth to n, discarding any trailing segments.
func (k *Key) Truncate(n int) *Key {
	if n < len(k.Segments) {
		k.Segments = k.Segments[:n]
	}
	return k
}

func (k *Key) Clone() *Key {
	out := &Key{Segments: append([]Segment{}, k.Segments...), Edge: k.Edge}
	return out
}

func (k *Key) String() string {
	return fmt.Sprintf("Key%v(edge=%d)", k.Segments, k.Edge)
}

// HKey is a Key whose segments spell out the path from a group's root to
// a row: [RootOrdinal, rootPk..., ChildOrdinal, childPk..., ...]. It is
// the primary physical identifier of a row within a group.
type HKey struct {
	*Key
}

func NewHKey(segs ...Segment) HKey {
	return HKey{Key: NewKey(segs...)}
}

// RowData is an opaque, byte-encoded row payload. The adapter never
// interprets its contents except through a FieldDef when constructing an
// index key.
type RowData struct {
	Bytes []byte
}

// FieldDef names one column of a row and how to project it out of RowData
// and into an index key segment. Extraction logic lives with the caller
// that owns the row encoding (the planner); this adapter calls Extract.
type FieldDef struct {
	Name     string
	Position int
	Extract  func(RowData) (Segment, bool) // ok=false means the field is SQL NULL
}

// JoinType selects which side of a group index anchors its rows: the
// branch's rows always appear, the other side's rows appear only when
// matched (for a group-index spanning multiple tables in one group).
type JoinType uint8

const (
	JoinLeft JoinType = iota
	JoinRight
)

// GroupIndexRowComposition maps each index-row key position back to a
// position in the flattened group row, so the writer knows which table's
// column backs each segment of a group index.
type GroupIndexRowComposition struct {
	// FieldPositions[i] is the flattened-group-row position backing the
	// i-th key column of the index.
	FieldPositions []int
}

// TableIndex describes a single-table index.
type TableIndex struct {
	Name                     string
	Prefix                   []byte
	KeyColumns               []FieldDef
	Unique                   bool
	UniqueAndMayContainNulls bool
}

// GroupIndex describes an index whose key columns may span several
// tables within one group.
type GroupIndex struct {
	Name                     string
	Prefix                   []byte
	KeyColumns               []FieldDef
	Unique                   bool
	UniqueAndMayContainNulls bool
	Join                     JoinType
	Composition              GroupIndexRowComposition
}

// Index is the common view the index writer/iterator operate over,
// satisfied by both TableIndex and GroupIndex.
type Index interface {
	IndexName() string
	IndexPrefix() []byte
	IndexKeyColumns() []FieldDef
	IsUnique() bool
	IsUniqueAndMayContainNulls() bool
}

func (i *TableIndex) IndexName() string              { return i.Name }
func (i *TableIndex) IndexPrefix() []byte             { return i.Prefix }
func (i *TableIndex) IndexKeyColumns() []FieldDef     { return i.KeyColumns }
func (i *TableIndex) IsUnique() bool                  { return i.Unique }
func (i *TableIndex) IsUniqueAndMayContainNulls() bool { return i.UniqueAndMayContainNulls }

func (i *GroupIndex) IndexName() string              { return i.Name }
func (i *GroupIndex) IndexPrefix() []byte             { return i.Prefix }
func (i *GroupIndex) IndexKeyColumns() []FieldDef     { return i.KeyColumns }
func (i *GroupIndex) IsUnique() bool                  { return i.Unique }
func (i *GroupIndex) IsUniqueAndMayContainNulls() bool { return i.UniqueAndMayContainNulls }

// IndexRow is a key built from an index's key columns (with, for
// nullable-unique indexes, a trailing null-separator), plus a value
// holding the hkey of the row it points at. Index rows are lookup edges,
// never owners: the hkey is the only thing an index row remembers about
// its row.
type IndexRow struct {
	Key  *Key
	HKey HKey
}

// Sequence is a logical monotonic counter. RealValue maps a raw
// allocated tick to the value actually handed to the caller (identity by
// default; affine for e.g. START WITH/INCREMENT BY sequences).
type Sequence struct {
	Name      string
	Prefix    []byte
	CacheSize int64
	RealValue func(raw int64) int64
}

func (s *Sequence) realValue(raw int64) int64 {
	if s.RealValue == nil {
		return raw
	}
	return s.RealValue(raw)
}

// RealValueForRawNumber is the exported form used outside this package.
func (s *Sequence) RealValueForRawNumber(raw int64) int64 { return s.realValue(raw) }

// ObjectKind distinguishes the four kinds of logical object the
// directory layer allocates prefixes for.
type ObjectKind uint8

const (
	KindTable ObjectKind = iota
	KindGroup
	KindIndex
	KindSequence
)

// StorageDescription binds a logical object to the packed byte prefix
// the directory layer resolved for it. Immutable once resolved for a
// given schema generation.
type StorageDescription struct {
	QualifiedPath []string
	Kind          ObjectKind
	Prefix        []byte
}

// ChangeLevel is the granularity of a schema alteration, controlling the
// on-disk move protocol the alter orchestrator runs.
type ChangeLevel uint8

const (
	ChangeNone ChangeLevel = iota
	ChangeMetadata
	ChangeMetadataNotNull
	ChangeIndex
	ChangeTable
	ChangeGroup
)

func (c ChangeLevel) String() string {
	switch c {
	case ChangeNone:
		return "NONE"
	case ChangeMetadata:
		return "METADATA"
	case ChangeMetadataNotNull:
		return "METADATA_NOT_NULL"
	case ChangeIndex:
		return "INDEX"
	case ChangeTable:
		return "TABLE"
	case ChangeGroup:
		return "GROUP"
	default:
		return "UNKNOWN"
	}
}
