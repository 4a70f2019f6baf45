package tracker_test

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/vsariola/soundmachine/state"
	"github.com/vsariola/soundmachine/tracker"
	"github.com/vsariola/soundmachine/vm"
)

type opCounts map[string]float64

func countOps(metrics *tracker.Metrics) opCounts {
	ret := opCounts{}
	for _, op := range []string{"add_node", "remove_node", "add_connection", "remove_connection"} {
		ret[op] = testutil.ToFloat64(metrics.GraphOps.WithLabelValues(op))
	}
	return ret
}

func (c opCounts) since(before opCounts) opCounts {
	ret := opCounts{}
	for op, n := range c {
		ret[op] = n - before[op]
	}
	return ret
}

func TestDefaultProjectIsMirrored(t *testing.T) {
	m, metrics := newTestModel(t)
	checkGraphMatchesTree(t, m)
	checkConnectionsValid(t, m.Project())
	if got := testutil.ToFloat64(metrics.Nodes); got != 7 {
		t.Errorf("nodes gauge = %v, want 7", got)
	}
	if got, want := testutil.ToFloat64(metrics.Connections), float64(len(m.Project().Connections().All())); got != want {
		t.Errorf("connections gauge = %v, want %v", got, want)
	}
}

func TestPausedUpdatesReplayNetDifference(t *testing.T) {
	m, metrics := newTestModel(t)
	p, g, h := m.Project(), m.ProcessorGraph(), m.History()
	in := p.NodeID(p.AudioInputProcessor())
	master := p.NodeID(p.InputProcessor(p.MasterTrack()))
	x := vm.Edge{Source: vm.Endpoint{Node: in, Channel: 0}, Destination: vm.Endpoint{Node: master, Channel: 0}}
	y := vm.Edge{Source: vm.Endpoint{Node: in, Channel: 1}, Destination: vm.Endpoint{Node: master, Channel: 1}}
	before := countOps(metrics)
	g.PauseUpdates()
	h.BeginNewTransaction("Connect")
	if !h.Perform(tracker.CreateConnection(p, x, true)) {
		t.Fatalf("could not create connection")
	}
	h.Perform(tracker.DeleteConnection(p, p.Connections().Matching(x), true, true))
	h.Perform(tracker.CreateConnection(p, y, true))
	if g.Graph().IsConnected(y) {
		t.Fatalf("runtime graph changed while paused")
	}
	if diff := cmp.Diff(opCounts{"add_node": 0, "remove_node": 0, "add_connection": 0, "remove_connection": 0}, countOps(metrics).since(before)); diff != "" {
		t.Fatalf("graph operations while paused (-want +got):\n%s", diff)
	}
	g.ResumeUpdates()
	if diff := cmp.Diff(opCounts{"add_node": 0, "remove_node": 0, "add_connection": 1, "remove_connection": 0}, countOps(metrics).since(before)); diff != "" {
		t.Errorf("graph operations after resume (-want +got):\n%s", diff)
	}
	if !g.Graph().IsConnected(y) || g.Graph().IsConnected(x) {
		t.Errorf("runtime graph does not have the net connections: %v", g.Graph().Connections())
	}
	checkGraphMatchesTree(t, m)
	if !h.Undo() {
		t.Fatalf("could not undo")
	}
	if g.Graph().IsConnected(y) {
		t.Errorf("undo did not remove the connection from the runtime graph")
	}
	checkGraphMatchesTree(t, m)
}

func TestPausedCreateAndDeleteCancel(t *testing.T) {
	m, metrics := newTestModel(t)
	p, g := m.Project(), m.ProcessorGraph()
	before := countOps(metrics)
	g.PauseUpdates()
	fx := mustCreate(t, m, "mono-fx", p.Track(0), 0)
	if g.Graph().Node(p.NodeID(fx)) != nil {
		t.Fatalf("runtime node added while paused")
	}
	if !m.DeleteProcessor(fx) {
		t.Fatalf("could not delete processor")
	}
	g.ResumeUpdates()
	if diff := cmp.Diff(opCounts{"add_node": 0, "remove_node": 0, "add_connection": 0, "remove_connection": 0}, countOps(metrics).since(before)); diff != "" {
		t.Errorf("create and delete while paused should cancel out (-want +got):\n%s", diff)
	}
	checkGraphMatchesTree(t, m)
}

func TestPreviewDoesNotTouchRuntimeGraph(t *testing.T) {
	m, metrics := newTestModel(t)
	p := m.Project()
	before := countOps(metrics)
	// recomputing an unchanged routing must not churn the runtime edges
	m.History().Perform(tracker.UpdateAllDefaultConnections(p, false, true, p.Track(0)))
	if diff := cmp.Diff(opCounts{"add_node": 0, "remove_node": 0, "add_connection": 0, "remove_connection": 0}, countOps(metrics).since(before)); diff != "" {
		t.Errorf("graph operations (-want +got):\n%s", diff)
	}
	if m.History().CanUndo() {
		t.Errorf("an update without changes was recorded")
	}
}

func TestLayoutChangePrunesConnections(t *testing.T) {
	m, _ := newTestModel(t)
	p, tree := m.Project(), m.Tree()
	gain := mustCreate(t, m, "gain", p.Track(0), 0)
	if n := len(p.Connections().ForNode(gain, tracker.Audio, true, true, true, true)); n != 4 {
		t.Fatalf("stereo gain should have 4 connections, got %d", n)
	}
	inst, ok := m.ProcessorGraph().Instance(gain).(*vm.Gain)
	if !ok {
		t.Fatalf("instance is %T, want *vm.Gain", m.ProcessorGraph().Instance(gain))
	}
	inst.SetChannels(1)
	id := p.NodeID(gain)
	for _, conn := range p.Connections().All() {
		e := p.Edge(conn)
		if e.Source.Node == id && e.Source.Channel != 0 || e.Destination.Node == id && e.Destination.Channel != 0 {
			t.Errorf("connection %v to a removed channel was not pruned", e)
		}
	}
	inputs := tree.ChildWithTag(gain, tracker.TagInputChannels)
	if n := tree.NumChildren(inputs); n != 1 {
		t.Fatalf("gain has %d input channels, want 1", n)
	}
	if got := tree.String(tree.Child(inputs, 0), tracker.PropAbbreviatedName); got != "M" {
		t.Errorf("abbreviated channel name = %q, want M", got)
	}
	checkConnectionsValid(t, p)
	checkGraphMatchesTree(t, m)
}

func TestFailedCreateLeavesProjectUnchanged(t *testing.T) {
	m, metrics := newTestModel(t)
	p, tree := m.Project(), m.Tree()
	before := tree.Element(p.Root)
	if _, err := m.CreateProcessor("broken", p.Track(0), 0); err == nil {
		t.Fatalf("creating a broken processor should fail")
	}
	if diff := cmp.Diff(before, tree.Element(p.Root)); diff != "" {
		t.Errorf("project changed (-want +got):\n%s", diff)
	}
	if m.History().CanUndo() {
		t.Errorf("failed create was recorded in the history")
	}
	if got := testutil.ToFloat64(metrics.Failures); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
	checkGraphMatchesTree(t, m)
}

func TestFailedLoadKeepsProject(t *testing.T) {
	m, _ := newTestModel(t)
	p := m.Project()
	mustCreate(t, m, "mono-fx", p.Track(0), 0)
	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	before := m.Tree().Element(p.Root)
	data := bytes.ReplaceAll(buf.Bytes(), []byte(`"mono-fx"`), []byte(`"broken"`))
	if err := m.Load(bytes.NewReader(data)); err == nil {
		t.Fatalf("loading a project with a broken processor should fail")
	}
	if m.Project().Root != p.Root {
		t.Fatalf("project was replaced")
	}
	if diff := cmp.Diff(before, m.Tree().Element(p.Root)); diff != "" {
		t.Errorf("project changed (-want +got):\n%s", diff)
	}
	checkGraphMatchesTree(t, m)
}

func TestFailedLoadLeavesTreeUntouched(t *testing.T) {
	other, _ := newTestModel(t)
	mustCreate(t, other, "mono-fx", other.Project().Track(0), 0)
	var buf bytes.Buffer
	if err := other.Save(&buf); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data := bytes.ReplaceAll(buf.Bytes(), []byte(`"mono-fx"`), []byte(`"broken"`))

	m, _ := newTestModel(t)
	p := m.Project()
	gain := mustCreate(t, m, "gain", p.Track(0), 0)
	m.History().BeginNewTransaction("Gain")
	m.SetParameter(gain, "gain", 0.75)
	before := m.Tree().Element(p.Root)
	if err := m.Load(bytes.NewReader(data)); err == nil {
		t.Fatalf("loading a project with a broken processor should fail")
	}
	// the project was never saved, so no processor state may appear
	if diff := cmp.Diff(before, m.Tree().Element(p.Root)); diff != "" {
		t.Errorf("project changed (-want +got):\n%s", diff)
	}
	if got := m.ProcessorGraph().Instance(gain).Parameters()[0].Value(); got != 0.75 {
		t.Errorf("gain after failed load = %v, want 0.75", got)
	}
	checkGraphMatchesTree(t, m)
}

func TestBypassReachesRuntimeNode(t *testing.T) {
	m, _ := newTestModel(t)
	p := m.Project()
	fx := mustCreate(t, m, "mono-fx", p.Track(0), 0)
	m.ToggleBypass().Do()
	n := m.ProcessorGraph().Graph().Node(p.NodeID(fx))
	if n == nil {
		t.Fatalf("no runtime node")
	}
	if !n.Bypassed() || !m.Tree().Bool(fx, tracker.PropBypassed) {
		t.Fatalf("processor was not bypassed")
	}
	m.Undo().Do()
	if n.Bypassed() {
		t.Errorf("undo did not clear the bypass of the runtime node")
	}
}

func TestFlushParameters(t *testing.T) {
	m, metrics := newTestModel(t)
	p, tree := m.Project(), m.Tree()
	gain := mustCreate(t, m, "gain", p.Track(0), 0)
	param := m.ProcessorGraph().Instance(gain).Parameters()[0]
	param.Set(0.5)
	if n := m.ProcessorGraph().FlushParameters(); n != 1 {
		t.Fatalf("flushed %d parameters, want 1", n)
	}
	node := tree.ChildWithProperty(gain, tracker.PropID, "gain")
	if got := tree.Float(node, tracker.PropValue, 0); got != 0.5 {
		t.Errorf("PARAM value = %v, want 0.5", got)
	}
	if n := m.ProcessorGraph().FlushParameters(); n != 0 {
		t.Errorf("second flush copied %d parameters, want 0", n)
	}
	if got := testutil.ToFloat64(metrics.Flushes); got != 1 {
		t.Errorf("flushes = %v, want 1", got)
	}
	m.History().BeginNewTransaction("Gain")
	m.SetParameter(gain, "gain", 1.25)
	m.SetParameter(gain, "gain", 1.5)
	if got := param.Value(); got != 1.5 {
		t.Errorf("runtime value = %v, want 1.5", got)
	}
	if param.TakeDirty() {
		t.Errorf("a value set by the host should not be dirty")
	}
	m.Undo().Do()
	if got := param.Value(); got != 0.5 {
		t.Errorf("runtime value after undo = %v, want 0.5", got)
	}
}

func TestRemovingConnectedProcessorPanics(t *testing.T) {
	m, _ := newTestModel(t)
	p, tree := m.Project(), m.Tree()
	fx := mustCreate(t, m, "mono-fx", p.Track(0), 0)
	defer func() {
		if recover() == nil {
			t.Errorf("removing a connected processor should panic")
		}
	}()
	tree.RemoveChild(tree.Parent(fx), fx)
}

func TestProcessorNodeIDsAreUnique(t *testing.T) {
	m, _ := newTestModel(t)
	p := m.Project()
	for i := 0; i < 3; i++ {
		mustCreate(t, m, "mono-fx", p.Track(0), i)
	}
	seen := map[vm.NodeID]state.NodeID{}
	for _, proc := range p.Processors() {
		id := p.NodeID(proc)
		if id == 0 {
			t.Errorf("processor %v has no node id", proc)
		}
		if other, ok := seen[id]; ok {
			t.Errorf("processors %v and %v share node id %d", other, proc, id)
		}
		seen[id] = proc
	}
}
