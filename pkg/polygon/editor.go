package polygon

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// HistoryLimit is the number of undo entries kept by an Editor.
const HistoryLimit = 50

// ErrVertexNotFound is returned when an operation names an unknown vertex.
var ErrVertexNotFound = errors.New("vertex not found")

// OpKind selects the mutation performed by Editor.Apply.
type OpKind int

const (
	OpAdd OpKind = iota
	OpDelete
	OpMove
	OpDragStart
	OpDrag
	OpDragEnd
	OpReplace
	OpClear
	OpUndo
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpDelete:
		return "delete"
	case OpMove:
		return "move"
	case OpDragStart:
		return "drag-start"
	case OpDrag:
		return "drag"
	case OpDragEnd:
		return "drag-end"
	case OpReplace:
		return "replace"
	case OpClear:
		return "clear"
	case OpUndo:
		return "undo"
	default:
		return fmt.Sprintf("op(%d)", int(k))
	}
}

// Op is a single editor mutation. Which fields matter depends on Kind:
// Add uses the coordinates (and ID when set), Delete/DragStart use ID,
// Move/Drag use ID and coordinates, Replace uses Vertices.
type Op struct {
	Kind      OpKind
	ID        string
	Latitude  float64
	Longitude float64
	Vertices  []Vertex
}

// Snapshot is an immutable view of the editor after a mutation. Callers must
// not modify Vertices.
type Snapshot struct {
	Version  uint64
	Vertices []Vertex
	// Dragging is the ID of the vertex being dragged, if any.
	Dragging string
	// Undoable is the number of history entries available to Undo.
	Undoable int
}

type historyKind int

const (
	historyAdd historyKind = iota
	historyDelete
	historyMove
	historyState
)

type historyEntry struct {
	kind     historyKind
	vertex   Vertex
	vertices []Vertex
}

// Editor is the single owner of the flight-area vertex list. All mutations go
// through Apply and each returns a new Snapshot; vertex slices are never
// modified in place once published.
type Editor struct {
	mu        sync.Mutex
	version   uint64
	vertices  []Vertex
	history   []historyEntry
	dragging  string
	dragSaved bool
}

// NewEditor creates an editor seeded with vs, ordered when it has 3 or more vertices.
func NewEditor(vs []Vertex) *Editor {
	e := &Editor{}
	e.vertices = reorder(append([]Vertex(nil), vs...))
	return e
}

// Snapshot returns the current state without mutating it.
func (e *Editor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Apply performs op and returns the resulting snapshot.
func (e *Editor) Apply(op Op) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	switch op.Kind {
	case OpAdd:
		e.add(op)
	case OpDelete:
		err = e.delete(op.ID)
	case OpMove:
		err = e.move(op)
	case OpDragStart:
		err = e.dragStart(op.ID)
	case OpDrag:
		err = e.drag(op)
	case OpDragEnd:
		e.dragEnd()
	case OpReplace:
		e.saveState()
		e.set(reorder(append([]Vertex(nil), op.Vertices...)))
	case OpClear:
		e.saveState()
		e.set(nil)
	case OpUndo:
		e.undo()
	default:
		err = fmt.Errorf("unknown editor operation %v", op.Kind)
	}
	return e.snapshotLocked(), err
}

func (e *Editor) Add(lat, lon float64) (Snapshot, error) {
	return e.Apply(Op{Kind: OpAdd, Latitude: lat, Longitude: lon})
}

func (e *Editor) Delete(id string) (Snapshot, error) {
	return e.Apply(Op{Kind: OpDelete, ID: id})
}

func (e *Editor) Move(id string, lat, lon float64) (Snapshot, error) {
	return e.Apply(Op{Kind: OpMove, ID: id, Latitude: lat, Longitude: lon})
}

func (e *Editor) BeginDrag(id string) (Snapshot, error) {
	return e.Apply(Op{Kind: OpDragStart, ID: id})
}

func (e *Editor) Drag(id string, lat, lon float64) (Snapshot, error) {
	return e.Apply(Op{Kind: OpDrag, ID: id, Latitude: lat, Longitude: lon})
}

func (e *Editor) EndDrag() (Snapshot, error) {
	return e.Apply(Op{Kind: OpDragEnd})
}

func (e *Editor) Replace(vs []Vertex) (Snapshot, error) {
	return e.Apply(Op{Kind: OpReplace, Vertices: vs})
}

func (e *Editor) Clear() (Snapshot, error) {
	return e.Apply(Op{Kind: OpClear})
}

func (e *Editor) Undo() (Snapshot, error) {
	return e.Apply(Op{Kind: OpUndo})
}

func (e *Editor) snapshotLocked() Snapshot {
	return Snapshot{
		Version:  e.version,
		Vertices: e.vertices,
		Dragging: e.dragging,
		Undoable: len(e.history),
	}
}

func (e *Editor) set(vs []Vertex) {
	e.vertices = vs
	e.version++
}

func (e *Editor) push(entry historyEntry) {
	e.history = append(e.history, entry)
	if len(e.history) > HistoryLimit {
		e.history = append([]historyEntry(nil), e.history[len(e.history)-HistoryLimit:]...)
	}
}

func (e *Editor) saveState() {
	if len(e.vertices) == 0 {
		return
	}
	e.push(historyEntry{kind: historyState, vertices: e.vertices})
}

func (e *Editor) indexOf(id string) int {
	for i, v := range e.vertices {
		if v.ID == id {
			return i
		}
	}
	return -1
}

func (e *Editor) add(op Op) {
	v := Vertex{ID: op.ID, Latitude: op.Latitude, Longitude: op.Longitude}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	e.push(historyEntry{kind: historyAdd, vertex: v})

	next := make([]Vertex, 0, len(e.vertices)+1)
	next = append(next, e.vertices...)
	e.set(reorder(append(next, v)))
}

func (e *Editor) delete(id string) error {
	i := e.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrVertexNotFound, id)
	}
	e.push(historyEntry{kind: historyDelete, vertex: e.vertices[i]})
	e.set(reorder(without(e.vertices, i)))
	return nil
}

func (e *Editor) move(op Op) error {
	i := e.indexOf(op.ID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrVertexNotFound, op.ID)
	}
	e.push(historyEntry{kind: historyMove, vertex: e.vertices[i]})
	e.set(reorder(moved(e.vertices, i, op.Latitude, op.Longitude)))
	return nil
}

func (e *Editor) dragStart(id string) error {
	i := e.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrVertexNotFound, id)
	}
	if !e.dragSaved {
		e.saveState()
		e.dragSaved = true
	}
	e.dragging = id
	return nil
}

func (e *Editor) drag(op Op) error {
	if e.dragging != op.ID {
		if err := e.dragStart(op.ID); err != nil {
			return err
		}
	}
	i := e.indexOf(op.ID)
	e.set(moved(e.vertices, i, op.Latitude, op.Longitude))
	return nil
}

func (e *Editor) dragEnd() {
	e.dragging = ""
	e.dragSaved = false
	if len(e.vertices) < 3 {
		return
	}
	if ordered := OrderSimple(e.vertices); !SameOrder(e.vertices, ordered) {
		e.set(ordered)
	}
}

func (e *Editor) undo() {
	e.dragging = ""
	e.dragSaved = false
	if len(e.history) == 0 {
		return
	}
	last := e.history[len(e.history)-1]
	e.history = e.history[:len(e.history)-1]

	var next []Vertex
	switch last.kind {
	case historyAdd:
		next = make([]Vertex, 0, len(e.vertices))
		for _, v := range e.vertices {
			if v.ID != last.vertex.ID {
				next = append(next, v)
			}
		}
	case historyDelete:
		next = append(append(make([]Vertex, 0, len(e.vertices)+1), e.vertices...), last.vertex)
	case historyMove:
		next = append([]Vertex(nil), e.vertices...)
		for i := range next {
			if next[i].ID == last.vertex.ID {
				next[i].Latitude = last.vertex.Latitude
				next[i].Longitude = last.vertex.Longitude
			}
		}
	case historyState:
		e.set(last.vertices)
		return
	}
	e.set(reorder(next))
}

// reorder applies OrderSimple when vs has enough vertices to form a polygon.
func reorder(vs []Vertex) []Vertex {
	if len(vs) < 3 {
		return vs
	}
	return OrderSimple(vs)
}

func without(vs []Vertex, i int) []Vertex {
	out := make([]Vertex, 0, len(vs)-1)
	out = append(out, vs[:i]...)
	return append(out, vs[i+1:]...)
}

func moved(vs []Vertex, i int, lat, lon float64) []Vertex {
	out := append([]Vertex(nil), vs...)
	out[i].Latitude = lat
	out[i].Longitude = lon
	return out
}
