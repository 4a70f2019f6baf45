package tracker

import (
	"github.com/vsariola/soundmachine/state"
)

// FindDefaultDestinationProcessor decides where a producer without custom
// outgoing connections of the type should be routed implicitly.
//
// A track output goes to the master track input, unless it belongs to the
// master track or there is no master. Any other processor goes to the first
// processor below it in its lane; a track input goes to the first processor
// of the lane. If that processor is not an effect, it replaces the source and
// no default connection can be made. With nothing below, the track output is
// the destination. Only the processor's own lane is searched.
//
// Returns None if there is no destination; callers fall back to the audio
// output of the project.
func (c *Connections) FindDefaultDestinationProcessor(source state.NodeID, ct ConnectionType) state.NodeID {
	p := c.project()
	if !p.IsProducer(source, ct) {
		return state.None
	}
	track := p.TrackFor(source)
	if track == state.None {
		return state.None
	}
	if source == p.OutputProcessor(track) {
		master := p.MasterTrack()
		if master == state.None || master == track {
			return state.None
		}
		return p.InputProcessor(master)
	}
	isTrackInput := source == p.InputProcessor(track)
	lane := p.LaneFor(source)
	if lane != state.None {
		slot := p.Slot(source)
		for _, other := range p.Tree.Children(lane) {
			if other == source {
				continue
			}
			if !isTrackInput && p.Slot(other) <= slot {
				continue
			}
			return other
		}
	}
	return p.OutputProcessor(track)
}

// canDefaultConnect reports if a default connection of the type may be made
// from source to destination.
func (c *Connections) canDefaultConnect(source, destination state.NodeID, ct ConnectionType) bool {
	p := c.project()
	return source != destination && p.Tree.Is(destination, TagProcessor) &&
		p.AllowsDefaultConnections(source) && p.AllowsDefaultConnections(destination) &&
		p.IsProducer(source, ct) && p.IsEffect(destination, ct)
}
