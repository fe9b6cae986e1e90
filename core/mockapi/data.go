package mockapi

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// Asset statuses, worst last.
const (
	StatusNormal   = "normal"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

var (
	taskStatuses   = []string{"todo", "in_progress", "review", "done"}
	taskPriorities = []string{"low", "medium", "high", "urgent"}
	taskTypes      = []string{"bug", "feature", "chore"}
	taskAssignees  = []string{"kim", "lee", "park", "choi"}
	activityVerbs  = []string{"created", "updated", "commented on", "closed"}
	roomNames      = []string{"Server Room A", "Server Room B", "Network Room", "Data Center", "Telecom Room", "UPS Room", "HVAC Room", "Monitoring Room", "Backup Room", "Storage Room", "Dev Room", "Ops Room"}
	buildings      = []struct{ id, name string }{{"building-001", "Main"}, {"building-002", "Annex A"}, {"building-003", "Annex B"}}
	roomAssetKinds = []struct{ kind, prefix string }{{"ups", "UPS"}, {"pdu", "PDU"}, {"pdu", "PDU"}, {"crac", "CRAC"}, {"sensor", "Sensor"}, {"sensor", "Sensor"}}
)

// Asset is one piece of monitored equipment.
type Asset struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	RoomID string `json:"roomId"`
	Status string `json:"status"`
}

// Node is a building, floor or room in the asset hierarchy.
type Node struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	AssetCount int    `json:"assetCount,omitempty"`
	Children   []Node `json:"children,omitempty"`
}

// Task is an item of the task monitor.
type Task struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	Type      string    `json:"type"`
	Assignee  string    `json:"assignee"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Activity is one entry of the activity feed.
type Activity struct {
	ID     string    `json:"id"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Target string    `json:"target"`
	At     time.Time `json:"at"`
}

// Stat is a headline number with its change against the previous period.
type Stat struct {
	Value  float64 `json:"value"`
	Change float64 `json:"change"`
}

// source generates the mock datasets. rnd is not safe for concurrent use,
// so every draw goes through mu.
type source struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time

	hierarchy []Node
	assets    []Asset
	tasks     []Task
}

func newSource(rnd *rand.Rand, now func() time.Time) *source {
	s := &source{rnd: rnd, now: now}
	s.hierarchy, s.assets = s.generateHierarchy()
	s.tasks = s.generateTasks(24)
	return s
}

func (s *source) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

func (s *source) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Intn(n)
}

// randomStatus is normal 75% of the time, warning 17% and critical 8%.
func (s *source) randomStatus() string {
	r := s.float()
	switch {
	case r < 0.75:
		return StatusNormal
	case r < 0.92:
		return StatusWarning
	default:
		return StatusCritical
	}
}

func aggregateStatus(statuses []string) string {
	out := StatusNormal
	for _, st := range statuses {
		if st == StatusCritical {
			return StatusCritical
		}
		if st == StatusWarning {
			out = StatusWarning
		}
	}
	return out
}

// generateHierarchy builds 3 buildings with 2 floors of 2 rooms each, and
// 6 assets per room.
func (s *source) generateHierarchy() ([]Node, []Asset) {
	var (
		nodes     []Node
		assets    []Asset
		roomIndex int
	)
	for _, b := range buildings {
		bnum := b.id[len("building-"):]
		var floors []Node
		for f := 1; f <= 2; f++ {
			floorID := fmt.Sprintf("floor-%s-%02d", bnum, f)
			var rooms []Node
			for r := 1; r <= 2; r++ {
				roomID := fmt.Sprintf("room-%s-%02d-%02d", bnum, f, r)
				statuses := make([]string, 0, len(roomAssetKinds))
				for _, k := range roomAssetKinds {
					idx := len(assets) + 1
					a := Asset{
						ID:     fmt.Sprintf("%s-%03d", k.kind, idx),
						Type:   k.kind,
						Name:   fmt.Sprintf("%s %03d", k.prefix, idx),
						RoomID: roomID,
						Status: s.randomStatus(),
					}
					assets = append(assets, a)
					statuses = append(statuses, a.Status)
				}
				rooms = append(rooms, Node{
					ID:         roomID,
					Name:       roomNames[roomIndex%len(roomNames)],
					Type:       "room",
					Status:     aggregateStatus(statuses),
					AssetCount: len(roomAssetKinds),
				})
				roomIndex++
			}
			floors = append(floors, Node{
				ID:       floorID,
				Name:     fmt.Sprintf("Floor %d", f),
				Type:     "floor",
				Status:   aggregateStatus(nodeStatuses(rooms)),
				Children: rooms,
			})
		}
		nodes = append(nodes, Node{
			ID:       b.id,
			Name:     b.name,
			Type:     "building",
			Status:   aggregateStatus(nodeStatuses(floors)),
			Children: floors,
		})
	}
	return nodes, assets
}

func nodeStatuses(nodes []Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.Status
	}
	return out
}

func (s *source) generateTasks(n int) []Task {
	now := s.now()
	out := make([]Task, n)
	for i := range out {
		out[i] = Task{
			ID:        fmt.Sprintf("task-%03d", i+1),
			Title:     fmt.Sprintf("Task %d", i+1),
			Status:    taskStatuses[s.intn(len(taskStatuses))],
			Priority:  taskPriorities[s.intn(len(taskPriorities))],
			Type:      taskTypes[s.intn(len(taskTypes))],
			Assignee:  taskAssignees[s.intn(len(taskAssignees))],
			UpdatedAt: now.Add(-time.Duration(s.intn(72*60)) * time.Minute),
		}
	}
	return out
}

func (s *source) activity(n int) []Activity {
	now := s.now()
	out := make([]Activity, n)
	for i := range out {
		task := s.tasks[s.intn(len(s.tasks))]
		out[i] = Activity{
			ID:     fmt.Sprintf("act-%d-%d", now.Unix(), i),
			Actor:  taskAssignees[s.intn(len(taskAssignees))],
			Action: activityVerbs[s.intn(len(activityVerbs))],
			Target: task.ID,
			At:     now.Add(-time.Duration(i*5) * time.Minute),
		}
	}
	return out
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func (s *source) stats() map[string]Stat {
	return map[string]Stat{
		"revenue":    {Value: math.Round(40000 + s.float()*20000), Change: round1(s.float()*20 - 10)},
		"orders":     {Value: math.Round(300 + s.float()*200), Change: round1(s.float()*20 - 10)},
		"customers":  {Value: math.Round(1000 + s.float()*500), Change: round1(s.float()*20 - 10)},
		"conversion": {Value: round1(2 + s.float()*3), Change: round1(s.float()*2 - 1)},
	}
}

func countBy[T any](items []T, key func(T) string) map[string]int {
	out := make(map[string]int)
	for _, it := range items {
		out[key(it)]++
	}
	return out
}
