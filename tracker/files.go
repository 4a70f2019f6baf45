package tracker

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vsariola/soundmachine/state"
	"github.com/vsariola/soundmachine/store"
)

var errNoStore = errors.New("no recovery store")

// Save writes the project as YAML. The state of every processor instance is
// stored in the tree first.
func (m *Model) Save(w io.Writer) error {
	if err := m.graph.StoreStates(); err != nil {
		return err
	}
	data, err := m.tree.Marshal(m.project.Root)
	if err != nil {
		return fmt.Errorf("could not marshal project: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("could not write project: %w", err)
	}
	m.changedSinceSave = false
	return nil
}

// Load replaces the project with the one read from r. On any error the
// current project is left untouched.
func (m *Model) Load(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("could not read project: %w", err)
	}
	root, err := m.tree.Unmarshal(data, TagProject)
	if err != nil {
		return fmt.Errorf("could not load project: %w", err)
	}
	p := &Project{Tree: m.tree, Root: root, Registry: m.registry}
	if err := p.validate(); err != nil {
		return fmt.Errorf("could not load project: %w", err)
	}
	if err := m.replaceProject(p); err != nil {
		return fmt.Errorf("could not load project: %w", err)
	}
	m.changedSinceSave = false
	return nil
}

// validate checks the parts of the tree the rest of the package relies on.
func (p *Project) validate() error {
	t := p.Tree
	for _, tag := range []string{TagInput, TagOutput, TagTracks, TagConnections, TagView} {
		if t.ChildWithTag(p.Root, tag) == state.None {
			return fmt.Errorf("missing %s", tag)
		}
	}
	masters := 0
	for _, track := range p.Tracks() {
		if !t.Is(track, TagTrack) {
			return fmt.Errorf("unexpected %s in %s", t.Tag(track), TagTracks)
		}
		if len(p.Lanes(track)) == 0 {
			return fmt.Errorf("track %q has no lanes", t.String(track, PropName))
		}
		if p.IsMaster(track) {
			masters++
		}
	}
	if masters > 1 {
		return fmt.Errorf("%d master tracks", masters)
	}
	for _, conn := range p.Connections().All() {
		if t.ChildWithTag(conn, TagSource) == state.None || t.ChildWithTag(conn, TagDestination) == state.None {
			return fmt.Errorf("connection without endpoints")
		}
	}
	return nil
}

// SaveFile saves the project to path and remembers it as a recent project.
func (m *Model) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	if err := m.Save(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("could not write file: %w", err)
	}
	m.filePath = path
	m.rememberFile(path)
	return nil
}

func (m *Model) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not open file: %w", err)
	}
	defer f.Close()
	if err := m.Load(f); err != nil {
		return err
	}
	m.filePath = path
	m.rememberFile(path)
	return nil
}

func (m *Model) rememberFile(path string) {
	if m.store == nil {
		return
	}
	if err := m.store.AddRecent(path); err != nil {
		m.Alerts().AddNamed("RecentProjects", "Could not update recent projects: "+err.Error(), Warning)
	}
}

// SaveRecovery stores the project in the recovery store, if it has changed
// since the last call.
func (m *Model) SaveRecovery() error {
	if !m.changedSinceRecovery {
		return nil
	}
	if m.store == nil {
		return errNoStore
	}
	if err := m.graph.StoreStates(); err != nil {
		return err
	}
	data, err := m.tree.Marshal(m.project.Root)
	if err != nil {
		return fmt.Errorf("could not marshal recovery data: %w", err)
	}
	if err := m.store.SaveRecovery(store.Recovery{Path: m.filePath, Data: data}); err != nil {
		return fmt.Errorf("could not write recovery data: %w", err)
	}
	m.changedSinceRecovery = false
	return nil
}

// LoadRecovery replaces the project with the recovery snapshot. It returns
// store.ErrNoRecovery if there is none.
func (m *Model) LoadRecovery() error {
	if m.store == nil {
		return errNoStore
	}
	r, err := m.store.Recovery()
	if err != nil {
		return err
	}
	root, err := m.tree.Unmarshal(r.Data, TagProject)
	if err != nil {
		return fmt.Errorf("could not load recovery data: %w", err)
	}
	p := &Project{Tree: m.tree, Root: root, Registry: m.registry}
	if err := p.validate(); err != nil {
		return fmt.Errorf("could not load recovery data: %w", err)
	}
	if err := m.replaceProject(p); err != nil {
		return fmt.Errorf("could not load recovery data: %w", err)
	}
	m.filePath = r.Path
	// the recovered project was never saved
	m.changedSinceSave = true
	m.changedSinceRecovery = false
	return nil
}
