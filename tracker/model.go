package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/vsariola/soundmachine/state"
	"github.com/vsariola/soundmachine/store"
	"github.com/vsariola/soundmachine/vm"
)

// Model owns the project tree and everything that changes it: the history,
// the processor graph and the default routing. It is owned by the goroutine
// running the Broker; the audio goroutine only renders the runtime graph.
type Model struct {
	cfg      Config
	log      *slog.Logger
	metrics  *Metrics
	registry *vm.Registry
	broker   *Broker
	store    *store.Store

	tree    *state.Tree
	project *Project
	history *History
	graph   *ProcessorGraph
	flusher *parameterFlusher

	alerts []Alert

	filePath             string
	changedSinceSave     bool
	changedSinceRecovery bool
	dragging             bool
}

var ErrNoSuchTrack = errors.New("no such track")

// NewModel creates a model with the default project. metrics and st may be
// nil.
func NewModel(cfg Config, registry *vm.Registry, broker *Broker, metrics *Metrics, st *store.Store) (*Model, error) {
	cfg = cfg.withDefaults()
	m := &Model{
		cfg:      cfg,
		log:      cfg.Logger,
		metrics:  metrics,
		registry: registry,
		broker:   broker,
		store:    st,
		tree:     state.NewTree(),
	}
	m.history = NewHistory(cfg.MaxUndo, m.log, metrics)
	m.history.OnChange = func() {
		m.changedSinceSave = true
		m.changedSinceRecovery = true
	}
	m.graph = NewProcessorGraph(vm.NewGraph(cfg.SampleRate), m.history, m.log, metrics)
	m.graph.OnLayoutChanged = m.layoutChanged
	if broker != nil {
		m.flusher = newParameterFlusher(m.graph, broker, FlushScheduler{Fast: cfg.FlushFast, Step: cfg.FlushStep, Slow: cfg.FlushSlow}, metrics)
	}
	if err := m.CreateDefaultProject(); err != nil {
		return nil, err
	}
	return m, nil
}

// Start starts the parameter flush. It must be called on the owning
// goroutine, e.g. as the first task posted to the broker.
func (m *Model) Start() {
	if m.flusher != nil {
		m.flusher.start()
	}
}

func (m *Model) Stop() {
	if m.flusher != nil {
		m.flusher.stop()
	}
}

func (m *Model) Project() *Project               { return m.project }
func (m *Model) Tree() *state.Tree               { return m.tree }
func (m *Model) History() *History               { return m.history }
func (m *Model) ProcessorGraph() *ProcessorGraph { return m.graph }
func (m *Model) Config() Config                  { return m.cfg }
func (m *Model) FilePath() string                { return m.filePath }
func (m *Model) ChangedSinceSave() bool          { return m.changedSinceSave }

// CreateDefaultProject replaces the project with one that has the external
// inputs and output, one track and a master track.
func (m *Model) CreateDefaultProject() error {
	p := NewProject(m.tree, m.registry)
	t := p.Tree
	t.AppendChild(p.InputNode(), p.NewProcessor(vm.AudioInputID, IOSlot))
	t.AppendChild(p.InputNode(), p.NewProcessor(vm.MidiInputID, IOSlot))
	t.AppendChild(p.OutputNode(), p.NewProcessor(vm.AudioOutputID, IOSlot))
	t.AppendChild(p.TracksNode(), p.NewTrack("Track 1", false, 0))
	t.AppendChild(p.TracksNode(), p.NewTrack("Master", true, 1))
	if err := m.replaceProject(p); err != nil {
		return err
	}
	UpdateAllDefaultConnections(p, false, true, p.Track(0)).Perform()
	m.filePath = ""
	m.changedSinceSave = false
	return nil
}

// replaceProject attaches p to the processor graph. If that fails, the old
// project stays.
func (m *Model) replaceProject(p *Project) error {
	m.EndDragging()
	old := m.project
	var states map[state.NodeID][]byte
	if old != nil {
		// instances are recreated if the old project has to be reattached
		var err error
		if states, err = m.graph.states(); err != nil {
			m.log.Warn("could not read processor states", "error", err)
		}
	}
	if err := m.graph.Attach(p); err != nil {
		if old != nil {
			if err2 := m.graph.Attach(old); err2 != nil {
				m.log.Error("could not restore previous project", "error", err2)
			} else if err2 := m.graph.restoreStates(states); err2 != nil {
				m.log.Warn("could not restore processor states", "error", err2)
			}
		}
		return err
	}
	m.project = p
	m.history.Clear()
	m.changedSinceRecovery = true
	return nil
}

// perform performs u in the current transaction and reports the error of a
// failed creation.
func (m *Model) perform(u Undoable) error {
	if m.history.Perform(u) {
		return nil
	}
	switch u := u.(type) {
	case *insertNode:
		if u.err != nil {
			return u.err
		}
	case compound:
		if err := u.err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("could not perform %T", u)
}

// updateDefaults recomputes all default connections in the current
// transaction.
func (m *Model) updateDefaults(makeInvalidDefaultsIntoCustom bool) {
	m.history.Perform(UpdateAllDefaultConnections(m.project, makeInvalidDefaultsIntoCustom, true, m.project.FocusedTrack()))
}

// CreateTrack adds a track before the master track.
func (m *Model) CreateTrack(name string) (state.NodeID, error) {
	p := m.project
	index := len(p.Tracks())
	if master := p.MasterTrack(); master != state.None {
		index = p.TrackIndex(master)
	}
	if name == "" {
		name = fmt.Sprintf("Track %d", index+1)
	}
	m.history.BeginNewTransaction("Create track")
	track := p.NewTrack(name, false, index)
	if err := m.perform(&insertNode{t: m.tree, parent: p.TracksNode(), child: track, index: index, errs: m.graph}); err != nil {
		return state.None, err
	}
	m.setFocus(index, 0)
	m.updateDefaults(false)
	return track, nil
}

// CreateProcessor inserts a processor into the first lane of the track at
// slot. Processors in the way are pushed to later slots. A generator added
// to a track that already has one gets a track of its own.
func (m *Model) CreateProcessor(id string, track state.NodeID, slot int) (state.NodeID, error) {
	p := m.project
	d, ok := m.registry.Lookup(id)
	if !ok {
		return state.None, fmt.Errorf("%w: %q", vm.ErrUnknownProcessor, id)
	}
	if !m.tree.Is(track, TagTrack) {
		return state.None, ErrNoSuchTrack
	}
	m.history.BeginNewTransaction("Create " + d.Name)
	if describesGenerator(d) && slices.ContainsFunc(p.LaneProcessors(track), m.isGenerator) {
		index := p.TrackIndex(track) + 1
		track = p.NewTrack(d.Name, false, index)
		if err := m.perform(&insertNode{t: m.tree, parent: p.TracksNode(), child: track, index: index, errs: m.graph}); err != nil {
			return state.None, err
		}
		slot = 0
	}
	lane := p.Lane(track)
	proc := p.NewProcessor(id, max(slot, 0))
	create := compound{
		newMoveProcessors(p, p.shiftSlots(lane, max(slot, 0))),
		&insertNode{t: m.tree, parent: lane, child: proc, index: p.laneInsertIndex(lane, max(slot, 0)), errs: m.graph},
	}
	if err := m.perform(create); err != nil {
		m.history.UndoCurrentTransactionOnly()
		return state.None, err
	}
	m.setFocus(p.TrackIndex(track), max(slot, 0))
	m.updateDefaults(false)
	return proc, nil
}

func describesGenerator(d vm.Description) bool { return d.Inputs == 0 && d.Outputs > 0 }

func (m *Model) isGenerator(proc state.NodeID) bool {
	c := m.project.Capabilities(proc)
	return c.Kind == vm.KindPlugin && c.Inputs == 0 && c.Outputs > 0
}

// DeleteProcessor disconnects and removes a lane processor. Track input and
// output processors cannot be deleted on their own.
func (m *Model) DeleteProcessor(proc state.NodeID) bool {
	if !m.tree.Is(m.tree.Parent(proc), TagLane) {
		return false
	}
	m.deleteNodes([]state.NodeID{proc})
	return true
}

func (m *Model) DeleteTrack(track state.NodeID) bool {
	if !m.tree.Is(track, TagTrack) || m.tree.Parent(track) == state.None {
		return false
	}
	m.deleteNodes([]state.NodeID{track})
	return true
}

func (m *Model) deleteNodes(nodes []state.NodeID) {
	if len(nodes) == 0 {
		return
	}
	m.history.BeginNewTransaction("Delete")
	for _, node := range nodes {
		m.history.Perform(m.deleteNode(node))
	}
	if ft := m.project.FocusedTrack(); ft == state.None {
		m.setFocus(max(len(m.project.Tracks())-1, 0), 0)
	}
	m.updateDefaults(false)
}

// deleteNode disconnects every processor in the subtree of node and then
// removes node.
func (m *Model) deleteNode(node state.NodeID) Undoable {
	p := m.project
	disconnect := newConnectionEdits(p)
	m.tree.Walk(node, func(n state.NodeID) bool {
		if m.tree.Is(n, TagProcessor) {
			disconnect.merge(DisconnectProcessor(p, n, AllConnections, true, true, true, true, 0))
			return false
		}
		return true
	})
	return compound{disconnect, newRemoveNode(m.tree, node)}
}

// selectedNodes returns the selected tracks and the processors selected in
// the lanes of unselected tracks.
func (m *Model) selectedNodes() []state.NodeID {
	p := m.project
	var ret []state.NodeID
	for _, track := range p.Tracks() {
		if m.tree.Bool(track, PropSelected) {
			ret = append(ret, track)
			continue
		}
		for _, lane := range p.Lanes(track) {
			mask := m.tree.String(lane, PropSelectedSlotsMask)
			for _, proc := range m.tree.Children(lane) {
				if s := p.Slot(proc); s >= 0 && s < len(mask) && mask[s] == '1' {
					ret = append(ret, proc)
				}
			}
		}
	}
	return ret
}

// AddConnection adds a custom connection. The default connections of the
// source for the same type are removed, since a custom connection replaces
// them. Returns false if the connection cannot be made.
func (m *Model) AddConnection(e vm.Edge) bool {
	p := m.project
	src := p.ProcessorByNodeID(e.Source.Node)
	if src == state.None || p.ProcessorByNodeID(e.Destination.Node) == state.None {
		return false
	}
	ct := Audio
	if e.IsMidi() {
		ct = Midi
	}
	disconnect := DisconnectProcessor(p, src, ct, true, false, false, true, 0)
	var ok bool
	p.preview(disconnect, func() { ok = p.Connections().CanConnect(e) })
	if !ok {
		return false
	}
	m.history.BeginNewTransaction("Connect")
	m.history.Perform(disconnect)
	m.history.Perform(CreateConnection(p, e, true))
	m.history.Perform(ResetDefaultExternalInputConnections(p, state.None))
	return true
}

// RemoveConnection removes the connection with the endpoints. Removing the
// last custom connection of a type gives the source its default connections
// back.
func (m *Model) RemoveConnection(e vm.Edge) bool {
	p := m.project
	conn := p.Connections().Matching(e)
	if conn == state.None {
		return false
	}
	custom := p.IsCustom(conn)
	src := p.ProcessorByNodeID(e.Source.Node)
	m.history.BeginNewTransaction("Disconnect")
	m.history.Perform(DeleteConnection(p, conn, true, true))
	if custom && src != state.None {
		m.history.Perform(UpdateProcessorDefaultConnections(p, src, false))
	}
	m.history.Perform(ResetDefaultExternalInputConnections(p, state.None))
	return true
}

// DisconnectCustom removes the custom connections of the processor and
// restores its defaults.
func (m *Model) DisconnectCustom(proc state.NodeID) bool {
	edits := DisconnectProcessor(m.project, proc, AllConnections, false, true, true, true, 0)
	if !edits.Changed() {
		return false
	}
	m.history.BeginNewTransaction("Disconnect custom")
	m.history.Perform(edits)
	m.updateDefaults(false)
	return true
}

// SetDefaultConnectionsAllowed sets whether the processor takes part in
// default routing.
func (m *Model) SetDefaultConnectionsAllowed(proc state.NodeID, allowed bool) bool {
	if !m.tree.Is(proc, TagProcessor) {
		return false
	}
	m.history.BeginNewTransaction("Default connections")
	m.history.Perform(newSetProperty(m.tree, proc, PropAllowDefaultConnections, allowed))
	if !allowed {
		m.history.Perform(DisconnectProcessor(m.project, proc, AllConnections, true, false, true, true, 0))
	}
	m.updateDefaults(false)
	return true
}

func (m *Model) SetBypassed(proc state.NodeID, bypassed bool) bool {
	if !m.tree.Is(proc, TagProcessor) {
		return false
	}
	m.history.BeginNewTransaction("Bypass")
	m.history.Perform(newSetProperty(m.tree, proc, PropBypassed, bypassed))
	return true
}

// SetParameter sets a parameter value. Consecutive changes of the same
// parameter within a transaction coalesce, so a knob drag undoes at once.
func (m *Model) SetParameter(proc state.NodeID, id string, value float64) bool {
	param := m.tree.ChildWithProperty(proc, PropID, id)
	if !m.tree.Is(param, TagParam) {
		return false
	}
	return m.history.Perform(newSetProperty(m.tree, param, PropValue, value))
}

// SetFocus focuses a track and a slot and broadcasts the change.
func (m *Model) SetFocus(track state.NodeID, slot int) bool {
	i := m.project.TrackIndex(track)
	if i < 0 {
		return false
	}
	m.setFocus(i, slot)
	// during a drag the rerouting joins the move
	if !m.dragging {
		m.history.BeginNewTransaction("Focus")
	}
	m.history.Perform(ResetDefaultExternalInputConnections(m.project, track))
	return true
}

func (m *Model) setFocus(track, slot int) {
	view := m.project.ViewNode()
	m.tree.SetProperty(view, PropFocusedTrack, track)
	m.tree.SetProperty(view, PropFocusedSlot, slot)
	m.selectionChanged()
}

// FocusedProcessor is the processor in the focused slot of the focused
// track, or None.
func (m *Model) FocusedProcessor() state.NodeID {
	track := m.project.FocusedTrack()
	if track == state.None {
		return state.None
	}
	slot := m.tree.Int(m.project.ViewNode(), PropFocusedSlot, 0)
	for _, proc := range m.project.LaneProcessors(track) {
		if m.project.Slot(proc) == slot {
			return proc
		}
	}
	return state.None
}

// SelectionChanged is broadcast on the VIEW node when the selection or the
// focus changes.
type SelectionChanged struct{}

// selectionChanged broadcasts SelectionChanged after the current task, so
// listeners see the selection once all of its changes are made. Without a
// broker the broadcast is synchronous.
func (m *Model) selectionChanged() {
	view := m.project.ViewNode()
	if m.broker == nil || !m.broker.BroadcastAsync(m.tree, view, SelectionChanged{}) {
		m.tree.Notify(view, SelectionChanged{})
	}
}

// SetTrackSelected changes the selection of a track. Selection is not
// undoable.
func (m *Model) SetTrackSelected(track state.NodeID, selected bool) {
	m.tree.SetProperty(track, PropSelected, selected)
	m.selectionChanged()
}

// SetSlotSelected changes the selection of a slot in a lane.
func (m *Model) SetSlotSelected(lane state.NodeID, slot int, selected bool) {
	if slot < 0 {
		return
	}
	mask := []byte(m.tree.String(lane, PropSelectedSlotsMask))
	if len(mask) <= slot {
		mask = append(mask, strings.Repeat("0", slot+1-len(mask))...)
	}
	mask[slot] = '0'
	if selected {
		mask[slot] = '1'
	}
	m.tree.SetProperty(lane, PropSelectedSlotsMask, strings.TrimRight(string(mask), "0"))
	m.selectionChanged()
}

// BeginDragging starts moving processors. Until EndDragging, the moves are
// shown in the tree but the runtime graph is not updated, and all moves
// form one undoable transaction.
func (m *Model) BeginDragging() {
	if m.dragging {
		return
	}
	m.dragging = true
	m.graph.PauseUpdates()
	m.history.BeginNewTransaction("Move processors")
}

// DragToPosition moves procs to consecutive slots starting at slot in lane,
// keeping their order, and reroutes the default connections. Returns false
// if the target slots are taken by other processors.
func (m *Model) DragToPosition(procs []state.NodeID, lane state.NodeID, slot int) bool {
	return m.dragToPosition(procs, lane, slot, false)
}

// DragToPositionKeepingConnections is DragToPosition, except that default
// connections the move would reroute are kept as custom connections.
func (m *Model) DragToPositionKeepingConnections(procs []state.NodeID, lane state.NodeID, slot int) bool {
	return m.dragToPosition(procs, lane, slot, true)
}

func (m *Model) dragToPosition(procs []state.NodeID, lane state.NodeID, slot int, keepConnections bool) bool {
	if !m.dragging || len(procs) == 0 || !m.tree.Is(lane, TagLane) || slot < 0 {
		return false
	}
	p := m.project
	sorted := slices.Clone(procs)
	slices.SortStableFunc(sorted, func(a, b state.NodeID) int { return p.Slot(a) - p.Slot(b) })
	var to []placement
	for i, proc := range sorted {
		if !m.tree.Is(m.tree.Parent(proc), TagLane) {
			return false
		}
		to = append(to, placement{proc: proc, lane: lane, slot: slot + i})
	}
	for _, other := range m.tree.Children(lane) {
		if slices.Contains(sorted, other) {
			continue
		}
		if s := p.Slot(other); s >= slot && s < slot+len(sorted) {
			return false
		}
	}
	move := newMoveProcessors(p, to)
	var conns *ConnectionEdits
	p.preview(move, func() { conns = UpdateAllDefaultConnections(p, keepConnections, true, p.FocusedTrack()) })
	return m.history.Perform(&withConnections{change: move, conns: conns})
}

// EndDragging finishes the move and applies it to the runtime graph.
func (m *Model) EndDragging() {
	if !m.dragging {
		return
	}
	m.dragging = false
	m.graph.ResumeUpdates()
	m.history.BeginNewTransaction("")
}

func (m *Model) Dragging() bool { return m.dragging }

// layoutChanged is called when a processor changed its channels; its
// connections have already been pruned.
func (m *Model) layoutChanged(proc state.NodeID) {
	m.history.BeginNewTransaction("Channels changed")
	m.history.Perform(UpdateProcessorDefaultConnections(m.project, proc, false))
	m.history.BeginNewTransaction("")
}
