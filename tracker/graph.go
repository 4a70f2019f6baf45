package tracker

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/vsariola/soundmachine/state"
	"github.com/vsariola/soundmachine/vm"
)

type (
	// ProcessorGraph keeps a runtime vm.Graph in sync with the processors and
	// connections of a project. It listens to the tree: adding a processor
	// node instantiates the processor, removing it tears the instance down,
	// and connection nodes become runtime edges.
	//
	// While paused, the tree keeps changing but the runtime graph does not;
	// ResumeUpdates applies the net difference at once.
	ProcessorGraph struct {
		project *Project
		graph   *vm.Graph
		history *History
		log     *slog.Logger
		metrics *Metrics

		instances map[vm.NodeID]vm.Processor
		procs     map[vm.NodeID]state.NodeID
		maxID     vm.NodeID

		paused  bool
		pending graphDiff

		err         error
		unsubscribe func()
		dirty       atomic.Pointer[func()]

		// OnLayoutChanged is called on the owning goroutine after a processor
		// changed its channel layout and the invalid connections were pruned.
		OnLayoutChanged func(proc state.NodeID)
	}

	graphDiff struct {
		removeEdges []vm.Edge
		addNodes    []vm.NodeID
		addEdges    []vm.Edge
		removeNodes []vm.NodeID
	}
)

var errProcessorConnected = errors.New("tracker: removing a processor that still has connections")

func NewProcessorGraph(graph *vm.Graph, history *History, log *slog.Logger, metrics *Metrics) *ProcessorGraph {
	if log == nil {
		log = slog.Default()
	}
	return &ProcessorGraph{
		graph:     graph,
		history:   history,
		log:       log,
		metrics:   metrics,
		instances: map[vm.NodeID]vm.Processor{},
		procs:     map[vm.NodeID]state.NodeID{},
	}
}

// SetParameterDirtyHandler sets the function called when a parameter of any
// instance becomes dirty. It runs on the goroutine that changed the
// parameter, usually the audio goroutine, and must not block.
func (g *ProcessorGraph) SetParameterDirtyHandler(f func()) {
	if f == nil {
		g.dirty.Store(nil)
		return
	}
	g.dirty.Store(&f)
}

func (g *ProcessorGraph) parameterDirty() {
	if f := g.dirty.Load(); f != nil {
		(*f)()
	}
}

// Attach starts mirroring the project, instantiating all its processors
// and connecting them. If any processor fails, the project is detached
// again and the error returned.
func (g *ProcessorGraph) Attach(p *Project) error {
	if g.project != nil {
		g.Detach()
	}
	g.project = p
	g.err = nil
	g.added(p.Root)
	if err := g.TakeError(); err != nil {
		g.Detach()
		return err
	}
	g.unsubscribe = p.Tree.Subscribe(p.Root, g.handle)
	return nil
}

// Detach stops mirroring and removes every instance from the runtime
// graph. Pending changes of a paused graph are dropped.
func (g *ProcessorGraph) Detach() {
	if g.unsubscribe != nil {
		g.unsubscribe()
		g.unsubscribe = nil
	}
	g.pending = graphDiff{}
	for id := range g.instances {
		if g.graph.RemoveNode(id) {
			g.metrics.graphOp(opRemoveNode)
		}
	}
	clear(g.instances)
	clear(g.procs)
	g.maxID = 0
	g.project = nil
	g.updateSize()
}

// TakeError returns and clears the latest instantiation failure.
func (g *ProcessorGraph) TakeError() error {
	err := g.err
	g.err = nil
	return err
}

// Instance returns the runtime processor of a processor node, or nil.
func (g *ProcessorGraph) Instance(proc state.NodeID) vm.Processor {
	return g.instances[g.project.NodeID(proc)]
}

func (g *ProcessorGraph) Graph() *vm.Graph { return g.graph }

func (g *ProcessorGraph) Paused() bool { return g.paused }

// PauseUpdates stops propagating tree changes into the runtime graph.
func (g *ProcessorGraph) PauseUpdates() { g.paused = true }

// ResumeUpdates applies the changes made while paused: connection removals,
// node creations, connection creations and finally node removals.
func (g *ProcessorGraph) ResumeUpdates() {
	if !g.paused {
		return
	}
	g.paused = false
	d := g.pending
	g.pending = graphDiff{}
	for _, e := range d.removeEdges {
		g.removeEdge(e)
	}
	for _, id := range d.addNodes {
		g.addRuntimeNode(id)
	}
	for _, e := range d.addEdges {
		g.addEdge(e)
	}
	for _, id := range d.removeNodes {
		g.removeRuntimeNode(id)
	}
	g.log.Debug("graph updates resumed",
		"removedEdges", len(d.removeEdges), "addedNodes", len(d.addNodes),
		"addedEdges", len(d.addEdges), "removedNodes", len(d.removeNodes))
}

func (g *ProcessorGraph) handle(ev state.Event) {
	t := g.project.Tree
	switch e := ev.(type) {
	case state.ChildAdded:
		if !e.Moving {
			g.added(e.Child)
		}
	case state.ChildWillBeRemoved:
		if !e.Moving {
			g.removing(e.Child)
		}
	case state.PropertyChanged:
		switch {
		case e.Name == PropBypassed && t.Is(e.Node, TagProcessor):
			if n := g.graph.Node(g.project.NodeID(e.Node)); n != nil {
				n.SetBypassed(t.Bool(e.Node, PropBypassed))
			}
		case e.Name == PropValue && t.Is(e.Node, TagParam):
			if param := g.parameter(t.Parent(e.Node), t.String(e.Node, PropID)); param != nil {
				param.SetFromHost(float32(t.Float(e.Node, PropValue, float64(param.Value()))))
			}
		}
	}
}

func (g *ProcessorGraph) added(node state.NodeID) {
	t := g.project.Tree
	if t.Is(node, TagConnection) {
		g.connectionAdded(node)
		return
	}
	var conns []state.NodeID
	t.Walk(node, func(n state.NodeID) bool {
		switch t.Tag(n) {
		case TagProcessor:
			g.processorAdded(n)
			return false
		case TagConnection:
			conns = append(conns, n)
			return false
		}
		return true
	})
	for _, conn := range conns {
		// adding a processor may have pruned it
		if t.Parent(conn) != state.None {
			g.connectionAdded(conn)
		}
	}
}

func (g *ProcessorGraph) removing(node state.NodeID) {
	t := g.project.Tree
	if t.Is(node, TagConnection) {
		g.edgeRemoved(g.project.Edge(node))
		return
	}
	t.Walk(node, func(n state.NodeID) bool {
		if t.Is(n, TagProcessor) {
			g.processorRemoved(n)
			return false
		}
		return true
	})
}

func (g *ProcessorGraph) processorAdded(proc state.NodeID) {
	p, t := g.project, g.project.Tree
	id := p.NodeID(proc)
	if id != 0 && g.paused && g.pending.cancel(&g.pending.removeNodes, id) {
		// removed and added back while paused: keep the old instance
		g.procs[id] = proc
		g.sync(proc, g.instances[id])
		return
	}
	inst, err := p.Registry.Instantiate(p.ProcessorID(proc))
	if err == nil {
		err = restoreState(t, proc, inst)
	}
	if err != nil {
		g.err = fmt.Errorf("processor %q: %w", t.String(proc, PropName), err)
		g.metrics.failure()
		g.log.Warn("could not create processor", "id", p.ProcessorID(proc), "error", err)
		return
	}
	if id == 0 || g.instances[id] != nil {
		g.maxID++
		id = g.maxID
	} else if id > g.maxID {
		g.maxID = id
	}
	t.SetProperty(proc, PropNodeID, int(id))
	g.instances[id] = inst
	g.procs[id] = proc
	g.sync(proc, inst)
	for _, param := range inst.Parameters() {
		param.SetNotify(g.parameterDirty)
	}
	if ln, ok := inst.(vm.LayoutNotifier); ok {
		ln.SetLayoutListener(func() { g.layoutChanged(id) })
	}
	if g.paused {
		g.pending.addNodes = append(g.pending.addNodes, id)
		return
	}
	g.addRuntimeNode(id)
}

func restoreState(t *state.Tree, proc state.NodeID, inst vm.Processor) error {
	s := t.String(proc, PropState)
	if s == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("could not decode state: %w", err)
	}
	return inst.SetState(data)
}

// sync writes the layout of the instance into the processor node and
// restores the parameter values stored in it. Connections to channels that
// no longer exist are removed.
func (g *ProcessorGraph) sync(proc state.NodeID, inst vm.Processor) {
	t := g.project.Tree
	l := inst.Layout()
	t.SetProperty(proc, PropAcceptsMidi, l.AcceptsMidi)
	t.SetProperty(proc, PropProducesMidi, l.ProducesMidi)
	g.syncChannels(proc, TagInputChannels, l.Inputs)
	g.syncChannels(proc, TagOutputChannels, l.Outputs)
	for _, param := range inst.Parameters() {
		if n := t.ChildWithProperty(proc, PropID, param.ID); n != state.None && t.Is(n, TagParam) {
			param.SetFromHost(float32(t.Float(n, PropValue, float64(param.Default))))
			continue
		}
		t.AppendChild(proc, t.New(TagParam,
			state.Property{Name: PropID, Value: param.ID},
			state.Property{Name: PropValue, Value: float64(param.Value())}))
	}
	if t.Parent(proc) != state.None {
		conns := g.project.ConnectionsNode()
		for _, conn := range PruneInvalidConnections(g.project, proc).Deleted() {
			t.RemoveChild(conns, conn)
		}
	}
}

// syncChannels makes the CHANNEL children under tag match names. Channels
// are matched by name; the order of names is kept.
func (g *ProcessorGraph) syncChannels(proc state.NodeID, tag string, names []string) {
	t := g.project.Tree
	parent := t.ChildWithTag(proc, tag)
	if parent == state.None {
		parent = t.New(tag)
		t.AppendChild(proc, parent)
	}
	for _, ch := range t.Children(parent) {
		if !slices.Contains(names, t.String(ch, PropName)) {
			t.RemoveChild(parent, ch)
		}
	}
	for i, name := range names {
		ch := t.ChildWithProperty(parent, PropName, name)
		if ch == state.None {
			ch = t.New(TagChannel, state.Property{Name: PropName, Value: name})
			t.InsertChild(parent, ch, min(i, t.NumChildren(parent)))
		} else if j := t.IndexOf(parent, ch); j != i && i < t.NumChildren(parent) {
			t.MoveChild(parent, j, i)
		}
		t.SetProperty(ch, PropChannelIndex, i)
		t.SetProperty(ch, PropAbbreviatedName, abbreviate(name))
	}
}

func abbreviate(name string) string {
	switch name {
	case "Left":
		return "L"
	case "Right":
		return "R"
	case "Mono":
		return "M"
	}
	if len(name) > 3 {
		return name[:3]
	}
	return name
}

func (g *ProcessorGraph) processorRemoved(proc state.NodeID) {
	p := g.project
	id := p.NodeID(proc)
	if g.instances[id] == nil || g.procs[id] != proc {
		return // never instantiated
	}
	if len(p.Connections().ForNode(proc, AllConnections, true, true, true, true)) > 0 {
		panic(fmt.Errorf("%w: %q (node %d)", errProcessorConnected, p.Tree.String(proc, PropName), id))
	}
	delete(g.procs, id)
	if g.paused {
		if g.pending.cancel(&g.pending.addNodes, id) {
			g.forget(id)
			return
		}
		g.pending.removeNodes = append(g.pending.removeNodes, id)
		return
	}
	g.removeRuntimeNode(id)
}

func (g *ProcessorGraph) forget(id vm.NodeID) {
	if inst := g.instances[id]; inst != nil {
		for _, param := range inst.Parameters() {
			param.SetNotify(nil)
		}
	}
	delete(g.instances, id)
	if id == g.maxID {
		g.maxID--
	}
}

// deferring reports if edge changes go to the pending diff. Changes made
// during a preview always cancel out there.
func (g *ProcessorGraph) deferring() bool { return g.paused || g.project.previewing() }

func (g *ProcessorGraph) connectionAdded(conn state.NodeID) {
	e := g.project.Edge(conn)
	if g.deferring() {
		if !g.pending.cancelEdge(&g.pending.removeEdges, e) {
			g.pending.addEdges = append(g.pending.addEdges, e)
		}
		return
	}
	g.addEdge(e)
}

func (g *ProcessorGraph) edgeRemoved(e vm.Edge) {
	if g.deferring() {
		if !g.pending.cancelEdge(&g.pending.addEdges, e) {
			g.pending.removeEdges = append(g.pending.removeEdges, e)
		}
		return
	}
	g.removeEdge(e)
}

func (g *ProcessorGraph) addRuntimeNode(id vm.NodeID) {
	inst := g.instances[id]
	if inst == nil {
		return
	}
	n, err := g.graph.AddNode(inst, id)
	if err != nil {
		g.log.Error("could not add node to the runtime graph", "node", id, "error", err)
		return
	}
	if proc, ok := g.procs[id]; ok {
		n.SetBypassed(g.project.Tree.Bool(proc, PropBypassed))
	}
	g.metrics.graphOp(opAddNode)
	g.updateSize()
}

func (g *ProcessorGraph) removeRuntimeNode(id vm.NodeID) {
	if g.graph.RemoveNode(id) {
		g.metrics.graphOp(opRemoveNode)
	}
	g.forget(id)
	g.updateSize()
}

func (g *ProcessorGraph) addEdge(e vm.Edge) {
	if !g.graph.AddConnection(e) {
		g.log.Warn("runtime graph rejected connection", "edge", e)
		return
	}
	g.metrics.graphOp(opAddConnection)
	g.updateSize()
}

func (g *ProcessorGraph) removeEdge(e vm.Edge) {
	if !g.graph.RemoveConnection(e) {
		return
	}
	g.metrics.graphOp(opRemoveConnection)
	g.updateSize()
}

func (g *ProcessorGraph) updateSize() {
	if g.metrics != nil {
		g.metrics.graphSize(len(g.graph.NodeIDs()), len(g.graph.Connections()))
	}
}

func (g *ProcessorGraph) layoutChanged(id vm.NodeID) {
	proc, ok := g.procs[id]
	inst := g.instances[id]
	if !ok || inst == nil || g.project == nil {
		return
	}
	t := g.project.Tree
	l := inst.Layout()
	t.SetProperty(proc, PropAcceptsMidi, l.AcceptsMidi)
	t.SetProperty(proc, PropProducesMidi, l.ProducesMidi)
	g.syncChannels(proc, TagInputChannels, l.Inputs)
	g.syncChannels(proc, TagOutputChannels, l.Outputs)
	if prune := PruneInvalidConnections(g.project, proc); prune.Changed() {
		g.history.BeginNewTransaction("Prune connections")
		g.history.Perform(prune)
		g.history.BeginNewTransaction("")
	}
	g.graph.RefreshLayout(id)
	g.log.Debug("processor layout changed", "node", id, "inputs", len(l.Inputs), "outputs", len(l.Outputs))
	if g.OnLayoutChanged != nil {
		g.OnLayoutChanged(proc)
	}
}

func (g *ProcessorGraph) parameter(proc state.NodeID, id string) *vm.Parameter {
	inst := g.instances[g.project.NodeID(proc)]
	if inst == nil {
		return nil
	}
	for _, param := range inst.Parameters() {
		if param.ID == id {
			return param
		}
	}
	return nil
}

// FlushParameters copies the parameters changed by the audio side into the
// PARAM values of the tree and returns how many were copied.
func (g *ProcessorGraph) FlushParameters() int {
	if g.project == nil {
		return 0
	}
	t := g.project.Tree
	n := 0
	for id, inst := range g.instances {
		proc, ok := g.procs[id]
		if !ok {
			continue
		}
		for _, param := range inst.Parameters() {
			if !param.TakeDirty() {
				continue
			}
			if node := t.ChildWithProperty(proc, PropID, param.ID); node != state.None {
				t.SetProperty(node, PropValue, float64(param.Value()))
				n++
			}
		}
	}
	g.metrics.flushed(n)
	return n
}

// StoreStates writes the state of every instance into the state property
// of its processor node, base64 encoded.
func (g *ProcessorGraph) StoreStates() error {
	states, err := g.states()
	if err != nil {
		return err
	}
	for proc, data := range states {
		g.project.Tree.SetProperty(proc, PropState, base64.StdEncoding.EncodeToString(data))
	}
	return nil
}

// states returns the state of every instance, keyed by processor node.
func (g *ProcessorGraph) states() (map[state.NodeID][]byte, error) {
	ret := map[state.NodeID][]byte{}
	for id, inst := range g.instances {
		proc, ok := g.procs[id]
		if !ok {
			continue
		}
		data, err := inst.State()
		if err != nil {
			return nil, fmt.Errorf("could not get state of %q: %w", g.project.Tree.String(proc, PropName), err)
		}
		ret[proc] = data
	}
	return ret, nil
}

// restoreStates hands states taken with states back to the instances,
// without touching the tree.
func (g *ProcessorGraph) restoreStates(states map[state.NodeID][]byte) error {
	for proc, data := range states {
		inst := g.Instance(proc)
		if inst == nil {
			continue
		}
		if err := inst.SetState(data); err != nil {
			return fmt.Errorf("could not restore state of %q: %w", g.project.Tree.String(proc, PropName), err)
		}
	}
	return nil
}

// cancel removes id from list and reports if it was there.
func (d *graphDiff) cancel(list *[]vm.NodeID, id vm.NodeID) bool {
	i := slices.Index(*list, id)
	if i < 0 {
		return false
	}
	*list = slices.Delete(*list, i, i+1)
	return true
}

func (d *graphDiff) cancelEdge(list *[]vm.Edge, e vm.Edge) bool {
	i := slices.Index(*list, e)
	if i < 0 {
		return false
	}
	*list = slices.Delete(*list, i, i+1)
	return true
}
