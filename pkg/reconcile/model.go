// Package reconcile keeps a viewer's mirror of the room roster consistent
// with the server. Model holds the merge rules and does no I/O; Session
// drives a Model with the network and a Renderer.
package reconcile

import (
	"fmt"
	"slices"
	"time"

	"github.com/astromechza/roomboard/pkg/notify"
	"github.com/astromechza/roomboard/pkg/rooms"
)

type Mode string

const (
	ModeSelection  Mode = "selection"
	ModeManagement Mode = "management"
)

type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Render says how much of the view a change invalidated.
type Render int

const (
	RenderNone Render = iota
	RenderHeader
	RenderRow
	RenderFull
)

type CallKind int

const (
	CallUpdate CallKind = iota + 1
	CallReset
	CallSync
)

// Call is a network request the driver must issue on behalf of the model.
type Call struct {
	Kind   CallKind
	RoomID string
	Patch  rooms.Patch
	Seq    uint64
	Silent bool
}

// Result is what a model transition asks of its driver.
type Result struct {
	Render Render
	RoomID string
	Notice string
	Call   *Call
	// Unauthorized is set when the server rejected the session.
	Unauthorized bool
}

func (r Result) merge(o Result) Result {
	if o.Render > r.Render {
		r.Render = o.Render
		r.RoomID = o.RoomID
	}
	if o.Notice != "" {
		r.Notice = o.Notice
	}
	if o.Call != nil {
		r.Call = o.Call
	}
	r.Unauthorized = r.Unauthorized || o.Unauthorized
	return r
}

// View is the read-only state a Renderer draws from.
type View struct {
	Rooms    []rooms.Room
	Mode     Mode
	Status   Status
	ReadOnly bool
	Loaded   bool
}

// Progress counts checked-out and active rooms.
func (v View) Progress() (checkedOut, active int) {
	for _, r := range v.Rooms {
		if r.IsActive {
			active++
			if r.IsCheckout {
				checkedOut++
			}
		}
	}
	return checkedOut, active
}

func (v View) Room(id string) (rooms.Room, bool) {
	for _, r := range v.Rooms {
		if r.ID == id {
			return r, true
		}
	}
	return rooms.Room{}, false
}

type Model struct {
	mirror   []rooms.Room
	index    map[string]int
	mode     Mode
	status   Status
	readOnly bool
	loaded   bool

	suppress time.Duration
	lastEdit time.Time
	edited   map[string]time.Time
	pending  map[string]int

	issuedSeq  uint64
	appliedSeq uint64
	resetAt    time.Time
}

// NewModel returns an empty model. Silent snapshot pulls within suppress of
// the last local edit are skipped.
func NewModel(suppress time.Duration, readOnly bool) *Model {
	return &Model{
		index:    make(map[string]int),
		mode:     ModeSelection,
		status:   StatusConnecting,
		readOnly: readOnly,
		suppress: suppress,
		edited:   make(map[string]time.Time),
		pending:  make(map[string]int),
	}
}

func (m *Model) View() View {
	return View{
		Rooms:    slices.Clone(m.mirror),
		Mode:     m.mode,
		Status:   m.status,
		ReadOnly: m.readOnly,
		Loaded:   m.loaded,
	}
}

func (m *Model) Mode() Mode { return m.mode }

func (m *Model) Pending(id string) int { return m.pending[id] }

func (m *Model) SetReadOnly(readOnly bool) Result {
	if m.readOnly == readOnly {
		return Result{}
	}
	m.readOnly = readOnly
	return Result{Render: RenderFull}
}

func (m *Model) room(id string) (rooms.Room, bool) {
	i, ok := m.index[id]
	if !ok {
		return rooms.Room{}, false
	}
	return m.mirror[i], true
}

func (m *Model) replace(next []rooms.Room) {
	rooms.Sort(next)
	m.mirror = next
	m.index = make(map[string]int, len(next))
	for i, r := range next {
		m.index[r.ID] = i
	}
}

func (m *Model) edit(id string, patch rooms.Patch, now time.Time) Result {
	current, ok := m.room(id)
	if !ok {
		return Result{Notice: fmt.Sprintf("room %s is not on the board", id)}
	}
	if err := patch.Validate(); err != nil {
		return Result{Notice: err.Error()}
	}
	next, _ := patch.Apply(current)
	m.mirror[m.index[id]] = next
	m.lastEdit = now
	m.edited[id] = now
	m.pending[id]++
	return Result{
		Render: RenderRow,
		RoomID: id,
		Call:   &Call{Kind: CallUpdate, RoomID: id, Patch: patch},
	}
}

func (m *Model) rejectReadOnly() (Result, bool) {
	if m.readOnly {
		return Result{Notice: "this session is read-only"}, true
	}
	return Result{}, false
}

// ToggleActive flips whether a room is in scope for today.
func (m *Model) ToggleActive(id string, now time.Time) Result {
	if res, rejected := m.rejectReadOnly(); rejected {
		return res
	}
	if m.mode != ModeSelection {
		return Result{Notice: "go back to selection to change which rooms are active"}
	}
	r, ok := m.room(id)
	if !ok {
		return Result{Notice: fmt.Sprintf("room %s is not on the board", id)}
	}
	return m.edit(id, rooms.Patch{IsActive: rooms.Bool(!r.IsActive)}, now)
}

func (m *Model) ToggleCheckout(id string, now time.Time) Result {
	if res, rejected := m.rejectReadOnly(); rejected {
		return res
	}
	r, res, ok := m.managedRoom(id)
	if !ok {
		return res
	}
	return m.edit(id, rooms.Patch{IsCheckout: rooms.Bool(!r.IsCheckout)}, now)
}

func (m *Model) EditNote(id, text string, now time.Time) Result {
	if res, rejected := m.rejectReadOnly(); rejected {
		return res
	}
	if _, res, ok := m.managedRoom(id); !ok {
		return res
	}
	return m.edit(id, rooms.Patch{Notes: rooms.String(text)}, now)
}

func (m *Model) managedRoom(id string) (rooms.Room, Result, bool) {
	if m.mode != ModeManagement {
		return rooms.Room{}, Result{Notice: "confirm the selection first"}, false
	}
	r, ok := m.room(id)
	if !ok {
		return rooms.Room{}, Result{Notice: fmt.Sprintf("room %s is not on the board", id)}, false
	}
	if !r.IsActive {
		return rooms.Room{}, Result{Notice: fmt.Sprintf("room %s is not active today", id)}, false
	}
	return r, Result{}, true
}

// ConfirmSelection moves to management when at least one room is active.
func (m *Model) ConfirmSelection() Result {
	if m.mode == ModeManagement {
		return Result{}
	}
	if _, active := m.View().Progress(); active == 0 {
		return Result{Notice: "select at least one room first"}
	}
	m.mode = ModeManagement
	return Result{Render: RenderFull}
}

func (m *Model) BackToSelection() Result {
	if m.mode == ModeSelection {
		return Result{}
	}
	m.mode = ModeSelection
	return Result{Render: RenderFull}
}

// RequestReset asks the server to clear the board. The mirror only changes
// once the reset roster comes back.
func (m *Model) RequestReset() Result {
	if res, rejected := m.rejectReadOnly(); rejected {
		return res
	}
	return Result{Call: &Call{Kind: CallReset}}
}

// RequestSync issues a snapshot pull. A silent pull inside the suppression
// window is skipped.
func (m *Model) RequestSync(silent bool, now time.Time) Result {
	if silent && m.withinWindow(m.lastEdit, now) {
		return Result{}
	}
	m.issuedSeq++
	return Result{Call: &Call{Kind: CallSync, Seq: m.issuedSeq, Silent: silent}}
}

func (m *Model) withinWindow(at, now time.Time) bool {
	return !at.IsZero() && now.Sub(at) < m.suppress
}

func sameRoom(a, b rooms.Room) bool {
	return a.ID == b.ID &&
		a.DisplayOrder == b.DisplayOrder &&
		a.Category == b.Category &&
		a.IsActive == b.IsActive &&
		a.IsCheckout == b.IsCheckout &&
		a.Notes == b.Notes &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

// ApplySnapshot merges the result of the pull tagged seq. Responses older
// than one already applied are dropped. A local record survives the merge
// when its room has edits in flight, when it carries a newer stamp, or, for
// silent pulls, when it was edited inside the suppression window.
func (m *Model) ApplySnapshot(seq uint64, silent bool, snapshot []rooms.Room, now time.Time) Result {
	if seq <= m.appliedSeq {
		return Result{}
	}
	m.appliedSeq = seq

	res := m.setStatus(StatusConnected)
	merged := make([]rooms.Room, 0, len(snapshot))
	for _, incoming := range snapshot {
		local, ok := m.room(incoming.ID)
		switch {
		case !ok:
			merged = append(merged, incoming)
		case m.pending[incoming.ID] > 0,
			local.UpdatedAt.After(incoming.UpdatedAt),
			silent && m.withinWindow(m.edited[incoming.ID], now):
			merged = append(merged, local)
		default:
			merged = append(merged, incoming)
		}
	}
	rooms.Sort(merged)

	if !m.loaded {
		m.loaded = true
		m.replace(merged)
		m.mode = ModeSelection
		for _, r := range merged {
			if r.IsActive {
				m.mode = ModeManagement
				break
			}
		}
		return res.merge(Result{Render: RenderFull})
	}
	if slices.EqualFunc(merged, m.mirror, sameRoom) {
		return res
	}
	m.replace(merged)
	return res.merge(Result{Render: RenderFull})
}

// ApplyPush applies a server push event. Room updates land regardless of the
// suppression window unless they are older than the mirror's record.
func (m *Model) ApplyPush(e notify.Event) Result {
	switch e.Kind {
	case notify.KindConnected:
		m.issuedSeq++
		return m.setStatus(StatusConnected).merge(Result{Call: &Call{Kind: CallSync, Seq: m.issuedSeq}})
	case notify.KindRoomUpdate:
		if e.Room == nil {
			return Result{}
		}
		local, ok := m.room(e.Room.ID)
		if !ok || e.Room.UpdatedAt.Before(local.UpdatedAt) || sameRoom(local, *e.Room) {
			return Result{}
		}
		m.mirror[m.index[e.Room.ID]] = *e.Room
		return Result{Render: RenderRow, RoomID: e.Room.ID}
	case notify.KindReset:
		return m.ApplyReset(e.Rooms)
	}
	return Result{}
}

// ApplyReset applies a reset roster and returns to selection. A roster no
// newer than the last reset applied is dropped, as is one that every mirror
// record has already moved past. Rooms changed after the reset keep their
// newer record.
func (m *Model) ApplyReset(roster []rooms.Room) Result {
	at := rooms.Latest(roster)
	if !m.resetAt.IsZero() && !at.After(m.resetAt) {
		return Result{}
	}

	next := make([]rooms.Room, 0, len(roster))
	applied := 0
	for _, incoming := range roster {
		if local, ok := m.room(incoming.ID); ok && local.UpdatedAt.After(incoming.UpdatedAt) {
			next = append(next, local)
			continue
		}
		next = append(next, incoming)
		applied++
	}
	if m.loaded && applied == 0 {
		return Result{}
	}
	rooms.Sort(next)
	m.resetAt = at
	clear(m.edited)
	if m.loaded && m.mode == ModeSelection && slices.EqualFunc(next, m.mirror, sameRoom) {
		return Result{}
	}
	m.replace(next)
	m.loaded = true
	m.mode = ModeSelection
	return Result{Render: RenderFull}
}

// ApplyConfirm takes the server's record for a successful update. While
// later edits to the same room are still in flight only the stamp is kept,
// so the newer optimistic values stay visible.
func (m *Model) ApplyConfirm(id string, confirmed rooms.Room) Result {
	m.settle(id)
	local, ok := m.room(id)
	if !ok || confirmed.UpdatedAt.Before(local.UpdatedAt) {
		return Result{}
	}
	if m.pending[id] > 0 {
		local.UpdatedAt = confirmed.UpdatedAt
		m.mirror[m.index[id]] = local
		return Result{}
	}
	if sameRoom(local, confirmed) {
		return Result{}
	}
	m.mirror[m.index[id]] = confirmed
	return Result{Render: RenderRow, RoomID: id}
}

func (m *Model) settle(id string) {
	if m.pending[id] > 1 {
		m.pending[id]--
	} else {
		delete(m.pending, id)
	}
}

// ApplyUpdateFailure reverts through a full pull and tells the user.
func (m *Model) ApplyUpdateFailure(id string, err error, unauthorized bool) Result {
	m.settle(id)
	delete(m.edited, id)
	if unauthorized {
		return Result{Unauthorized: true, Notice: "session expired, please log in again"}
	}
	m.issuedSeq++
	return Result{
		Notice: fmt.Sprintf("could not update room %s: %v", id, err),
		Call:   &Call{Kind: CallSync, Seq: m.issuedSeq},
	}
}

func (m *Model) ApplyResetFailure(err error, unauthorized bool) Result {
	if unauthorized {
		return Result{Unauthorized: true, Notice: "session expired, please log in again"}
	}
	return Result{Notice: fmt.Sprintf("could not reset the board: %v", err)}
}

// ApplySyncFailure marks the connection down. Silent pulls fail quietly;
// only a pull the user is waiting on raises a notice.
func (m *Model) ApplySyncFailure(call Call, err error, unauthorized bool) Result {
	if unauthorized {
		return Result{Unauthorized: true, Notice: "session expired, please log in again"}
	}
	res := m.setStatus(StatusDisconnected)
	if !call.Silent {
		res.Notice = fmt.Sprintf("could not refresh the board: %v", err)
	}
	return res
}

// SetStatus records the push connection state.
func (m *Model) SetStatus(s Status) Result {
	return m.setStatus(s)
}

func (m *Model) setStatus(s Status) Result {
	if m.status == s {
		return Result{}
	}
	m.status = s
	return Result{Render: RenderHeader}
}
