package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SignalTruth           = "truth"
	SignalRelevance       = "relevance"
	SignalInformativeness = "informativeness"

	MinSignalValue = 0
	MaxSignalValue = 100

	DefaultSignalValue = 50
)

// DefaultPriority is the display order used when SIGNAL_PRIORITY is unset.
var DefaultPriority = []string{SignalTruth, SignalRelevance, SignalInformativeness}

var defaultSignalNames = map[string]string{
	SignalTruth:           "Truth",
	SignalRelevance:       "Relevance",
	SignalInformativeness: "Informativeness",
}

// HistoryPoint is one settled observation of a signal.
type HistoryPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	Value       int       `json:"value"`
	EpochNumber uint64    `json:"epoch_number"`
}

type SignalMetadata struct {
	Contributors int             `json:"contributors"`
	LastUpdated  *time.Time      `json:"last_updated,omitempty"`
	Stake        decimal.Decimal `json:"stake"`
	Volatility   float64         `json:"volatility"`
}

type Signal struct {
	Key          string         `json:"key"`
	Name         string         `json:"name"`
	CurrentValue int            `json:"current_value"`
	History      []HistoryPoint `json:"history"`
	Metadata     SignalMetadata `json:"metadata"`
}

// LastEpoch returns the epoch of the newest history point and whether one exists.
func (s *Signal) LastEpoch() (uint64, bool) {
	if len(s.History) == 0 {
		return 0, false
	}
	return s.History[len(s.History)-1].EpochNumber, true
}

// SignalSpec describes a signal to create when content is registered.
type SignalSpec struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	InitialValue int    `json:"initial_value"`
}

// DefaultSignalSpecs returns the three core signals at their neutral value.
func DefaultSignalSpecs() []SignalSpec {
	specs := make([]SignalSpec, 0, len(DefaultPriority))
	for _, key := range DefaultPriority {
		specs = append(specs, SignalSpec{Key: key, Name: defaultSignalNames[key], InitialValue: DefaultSignalValue})
	}
	return specs
}

// DisplayName falls back to the key when no name was supplied.
func (s SignalSpec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if n, ok := defaultSignalNames[s.Key]; ok {
		return n
	}
	return s.Key
}

type SignalCollection struct {
	ContentID string             `json:"content_id"`
	Signals   map[string]*Signal `json:"signals"`
}

func NewSignalCollection(contentID string) *SignalCollection {
	return &SignalCollection{ContentID: contentID, Signals: make(map[string]*Signal)}
}

// Values returns the current value of every signal keyed by signal key.
func (c *SignalCollection) Values() map[string]int {
	out := make(map[string]int, len(c.Signals))
	for k, s := range c.Signals {
		out[k] = s.CurrentValue
	}
	return out
}

func (c *SignalCollection) Has(key string) bool {
	_, ok := c.Signals[key]
	return ok
}

// Ordered returns signals with the priority keys first, in priority order,
// followed by the remaining keys alphabetically.
func (c *SignalCollection) Ordered(priority []string) []*Signal {
	out := make([]*Signal, 0, len(c.Signals))
	seen := make(map[string]bool, len(priority))
	for _, key := range priority {
		if s, ok := c.Signals[key]; ok && !seen[key] {
			out = append(out, s)
			seen[key] = true
		}
	}

	rest := make([]string, 0, len(c.Signals))
	for key := range c.Signals {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		out = append(out, c.Signals[key])
	}
	return out
}

// SignalUpdate is the settled outcome for one signal in one epoch.
type SignalUpdate struct {
	Value        int
	Contributors int
	Stake        decimal.Decimal
	At           time.Time
}

// ValidSignalValue reports whether v is within the closed range [0,100].
func ValidSignalValue(v int) bool {
	return v >= MinSignalValue && v <= MaxSignalValue
}

// ClampSignalValue clamps v to [0,100].
func ClampSignalValue(v int) int {
	if v < MinSignalValue {
		return MinSignalValue
	}
	if v > MaxSignalValue {
		return MaxSignalValue
	}
	return v
}

// Volatility is the magnitude of change relative to the prior value.
// A prior of zero is treated as one so the ratio stays finite.
func Volatility(prior, next int) float64 {
	diff := next - prior
	if diff < 0 {
		diff = -diff
	}
	denom := prior
	if denom < 1 {
		denom = 1
	}
	return float64(diff) / float64(denom)
}
