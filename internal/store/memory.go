package store

import (
	"context"
	"strconv"
	"sync"
)

// MemoryClient is an in-memory Client double for tests (design notes §9):
// the controller must function against any implementation of the
// interface, and exercising it against a fake backend is how the
// end-to-end scenarios in spec.md §8 run without a live Object Store.
type MemoryClient struct {
	mu       sync.Mutex
	robots   map[string]*Robot
	missions map[string]*Mission
	seq      int64
	subs     []*memorySub
}

type memorySub struct {
	kind Kind
	ch   chan WatchEvent
}

// NewMemoryClient returns an empty store double.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		robots:   make(map[string]*Robot),
		missions: make(map[string]*Mission),
	}
}

// PutRobot seeds or overwrites a robot, bumping its version and notifying
// watchers. Intended for test setup, not part of the Client interface.
func (m *MemoryClient) PutRobot(r *Robot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.robots[r.Name]
	m.seq++
	r.Version = m.seq
	cp := *r
	m.robots[r.Name] = &cp
	evt := EventAdd
	if existed {
		evt = EventUpdate
	}
	m.notify(WatchEvent{Event: evt, Kind: KindRobot, Object: &cp, Cursor: strconv.FormatInt(m.seq, 10)})
}

// PutMission seeds or overwrites a mission, bumping its version and
// notifying watchers.
func (m *MemoryClient) PutMission(msn *Mission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.missions[msn.Name]
	m.seq++
	msn.Version = m.seq
	cp := *msn
	m.missions[msn.Name] = &cp
	evt := EventAdd
	if existed {
		evt = EventUpdate
	}
	m.notify(WatchEvent{Event: evt, Kind: KindMission, Object: &cp, Cursor: strconv.FormatInt(m.seq, 10)})
}

func (m *MemoryClient) notify(evt WatchEvent) {
	for _, s := range m.subs {
		if s.kind != evt.Kind {
			continue
		}
		select {
		case s.ch <- evt:
		default:
			// slow watcher; drop rather than block the writer under test.
		}
	}
}

func (m *MemoryClient) GetRobot(ctx context.Context, name string) (*Robot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.robots[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryClient) GetMission(ctx context.Context, name string) (*Mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msn, ok := m.missions[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *msn
	return &cp, nil
}

func (m *MemoryClient) ListRobots(ctx context.Context, filter ListFilter) ([]*Robot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Robot
	for _, r := range m.robots {
		if !matchesRobotFilter(r, filter) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func matchesRobotFilter(r *Robot, f ListFilter) bool {
	if f.MinBattery != nil && r.Status.BatteryLevel < *f.MinBattery {
		return false
	}
	if f.MaxBattery != nil && r.Status.BatteryLevel > *f.MaxBattery {
		return false
	}
	if f.State != "" && string(r.Status.State) != f.State {
		return false
	}
	if f.Online != nil && r.Status.Online != *f.Online {
		return false
	}
	if len(f.Names) > 0 && !containsName(f.Names, r.Name) {
		return false
	}
	return true
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (m *MemoryClient) ListMissions(ctx context.Context, filter ListFilter) ([]*Mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Mission
	for _, msn := range m.missions {
		if len(filter.Names) > 0 && !containsName(filter.Names, msn.Name) {
			continue
		}
		cp := *msn
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryClient) PatchRobotStatus(ctx context.Context, name string, expectedVersion int64, status RobotStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.robots[name]
	if !ok {
		return ErrNotFound
	}
	if r.Version != expectedVersion {
		return ErrVersionConflict
	}
	r.Status = status
	m.seq++
	r.Version = m.seq
	cp := *r
	m.notify(WatchEvent{Event: EventUpdate, Kind: KindRobot, Object: &cp, Cursor: strconv.FormatInt(m.seq, 10)})
	return nil
}

func (m *MemoryClient) PatchMissionStatus(ctx context.Context, name string, expectedVersion int64, status MissionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msn, ok := m.missions[name]
	if !ok {
		return ErrNotFound
	}
	if msn.Version != expectedVersion {
		return ErrVersionConflict
	}
	msn.Status = status
	m.seq++
	msn.Version = m.seq
	cp := *msn
	m.notify(WatchEvent{Event: EventUpdate, Kind: KindMission, Object: &cp, Cursor: strconv.FormatInt(m.seq, 10)})
	return nil
}

// Watch returns a channel fed by subsequent Put/Patch calls. The cursor
// on each WatchEvent is a monotonic sequence number; this double does not
// support resuming mid-stream from an arbitrary cursor, only from "now".
func (m *MemoryClient) Watch(ctx context.Context, kind Kind) (<-chan WatchEvent, error) {
	m.mu.Lock()
	sub := &memorySub{kind: kind, ch: make(chan WatchEvent, 256)}
	m.subs = append(m.subs, sub)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s == sub {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		close(sub.ch)
	}()

	return sub.ch, nil
}

var _ Client = (*MemoryClient)(nil)
var _ Client = (*HTTPClient)(nil)

func (k Kind) String() string { return string(k) }
