package usecase

import "SignalDesk/internal/domain/models"

// membership is an ordered map of strategy id to weight. Order is join order,
// which is also the server's positional order for weights.
type membership struct {
	order   []string
	weights map[string]float64
}

func newMembership() *membership {
	return &membership{weights: make(map[string]float64)}
}

// Add appends id with weight. It reports false when id is already a member.
func (m *membership) Add(id string, weight float64) bool {
	if _, ok := m.weights[id]; ok {
		return false
	}
	m.order = append(m.order, id)
	m.weights[id] = weight
	return true
}

// Remove drops id, keeping the relative order of the rest.
func (m *membership) Remove(id string) bool {
	if _, ok := m.weights[id]; !ok {
		return false
	}
	delete(m.weights, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

func (m *membership) Has(id string) bool {
	_, ok := m.weights[id]
	return ok
}

func (m *membership) Len() int { return len(m.order) }

// ApplyPositional assigns weights[i] to the i-th member. Entries past the
// membership length are ignored; members past the slice keep their weight.
// It returns how many members were updated.
func (m *membership) ApplyPositional(weights []float64) int {
	n := len(weights)
	if n > len(m.order) {
		n = len(m.order)
	}
	for i := 0; i < n; i++ {
		m.weights[m.order[i]] = weights[i]
	}
	return n
}

// MergePositional returns the full weight vector with weights overlaid
// positionally, without mutating m.
func (m *membership) MergePositional(weights []float64) []float64 {
	out := m.Weights()
	for i := 0; i < len(out) && i < len(weights); i++ {
		out[i] = weights[i]
	}
	return out
}

// Weights returns the positional weight vector.
func (m *membership) Weights() []float64 {
	out := make([]float64, len(m.order))
	for i, id := range m.order {
		out[i] = m.weights[id]
	}
	return out
}

// Members returns a copy of the members in join order.
func (m *membership) Members() []models.Member {
	out := make([]models.Member, len(m.order))
	for i, id := range m.order {
		out[i] = models.Member{StrategyID: id, Weight: m.weights[id]}
	}
	return out
}

func (m *membership) Reset() {
	m.order = nil
	m.weights = make(map[string]float64)
}
