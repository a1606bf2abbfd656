package geo

import (
	"math"
	"sync"

	"github.com/example/location-connect/internal/models"
)

// Point is one live identity position in the geo index.
type Point struct {
	ID   string
	Name string
	Role models.Role
	Lat  float64
	Lng  float64
}

// Geo is the minimal interface required by the nearby endpoint and the
// presence broadcaster.
type Geo interface {
	Upsert(p Point)
	Remove(id string)
	Nearby(role models.Role, lat, lng float64, limit int) []Point
}

// Index is the in-process fallback used when no redis mirror is configured.
type Index struct {
	mu     sync.RWMutex
	points map[string]Point
}

func NewIndex() *Index {
	return &Index{points: make(map[string]Point)}
}

func (g *Index) Upsert(p Point) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.points[p.ID] = p
}

func (g *Index) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.points, id)
}

// naive scan; fine for the session-sized sets this serves
func (g *Index) Nearby(role models.Role, lat, lng float64, limit int) []Point {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		p    Point
		dist float64
	}
	arr := make([]pair, 0, len(g.points))
	for _, p := range g.points {
		if p.Role != role {
			continue
		}
		arr = append(arr, pair{p, Haversine(lat, lng, p.Lat, p.Lng)})
	}
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	// partial selection sort for top-N
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]Point, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].p)
	}
	return out
}

// Haversine distance in meters
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
