// Package records provides read access to bank branches and their customer
// reviews. Stores are read-only from the point of view of an analysis.
package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrBranchNotFound is returned when no branch has the requested id.
var ErrBranchNotFound = errors.New("branch not found")

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Branch struct {
	ID      int       `json:"id"`
	Name    string    `json:"name"`
	Address string    `json:"address"`
	Geo     *GeoPoint `json:"geo,omitempty"`
}

type Review struct {
	BranchID  int    `json:"vsp_id"`
	Date      string `json:"date"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
	Tone      Tone   `json:"tone"`
	Expertise int    `json:"expertise"`
}

// Validate reports whether the review is well formed.
func (r Review) Validate() error {
	if r.Rating < 1 || r.Rating > 5 {
		return fmt.Errorf("review for branch %d dated %q: rating %d out of range 1..5", r.BranchID, r.Date, r.Rating)
	}
	return nil
}

type Tone int

const (
	ToneUnspecified Tone = iota
	TonePositive
	ToneNegative
	ToneNeutral
	ToneMixed
)

var toneNames = map[Tone]string{
	ToneUnspecified: "unspecified",
	TonePositive:    "positive",
	ToneNegative:    "negative",
	ToneNeutral:     "neutral",
	ToneMixed:       "mixed",
}

var toneAliases = map[string]Tone{
	"positive":      TonePositive,
	"позитивный":    TonePositive,
	"положительный": TonePositive,
	"negative":      ToneNegative,
	"негативный":    ToneNegative,
	"отрицательный": ToneNegative,
	"neutral":       ToneNeutral,
	"нейтральный":   ToneNeutral,
	"mixed":         ToneMixed,
	"смешанный":     ToneMixed,
}

// ParseTone maps a tone label to a Tone. Unknown and empty labels yield
// ToneUnspecified.
func ParseTone(s string) Tone {
	if t, ok := toneAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return t
	}
	return ToneUnspecified
}

func (t Tone) String() string {
	if s, ok := toneNames[t]; ok {
		return s
	}
	return toneNames[ToneUnspecified]
}

func (t Tone) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Tone) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// null and non-string labels are treated as unspecified
		*t = ToneUnspecified
		return nil
	}
	*t = ParseTone(s)
	return nil
}

// Store is the read interface over branch and review records.
type Store interface {
	Branches(ctx context.Context) ([]Branch, error)
	Reviews(ctx context.Context) ([]Review, error)
	ReviewsForBranch(ctx context.Context, branchID int) ([]Review, error)
}

// FindBranch returns the branch with the given id.
func FindBranch(ctx context.Context, s Store, id int) (Branch, error) {
	branches, err := s.Branches(ctx)
	if err != nil {
		return Branch{}, err
	}
	for _, b := range branches {
		if b.ID == id {
			return b, nil
		}
	}
	return Branch{}, fmt.Errorf("%w: id %d", ErrBranchNotFound, id)
}

// SearchBranches returns branches whose name or address contains query,
// compared case-insensitively.
func SearchBranches(ctx context.Context, s Store, query string) ([]Branch, error) {
	branches, err := s.Branches(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Branch
	for _, b := range branches {
		if strings.Contains(strings.ToLower(b.Name), q) || strings.Contains(strings.ToLower(b.Address), q) {
			out = append(out, b)
		}
	}
	return out, nil
}

// RatingSummary aggregates the reviews of one branch.
type RatingSummary struct {
	BranchID      int            `json:"branch_id"`
	BranchName    string         `json:"branch_name,omitempty"`
	Reviews       int            `json:"reviews"`
	AverageRating float64        `json:"average_rating"`
	Histogram     map[int]int    `json:"rating_histogram"`
	Tones         map[string]int `json:"tones"`
}

// Summarize groups reviews by branch and aggregates each group. Summaries
// are ordered by branch id. Names are filled from branches when known.
func Summarize(branches []Branch, reviews []Review) []RatingSummary {
	names := make(map[int]string, len(branches))
	for _, b := range branches {
		names[b.ID] = b.Name
	}

	byBranch := make(map[int]*RatingSummary)
	totals := make(map[int]int)
	for _, r := range reviews {
		s, ok := byBranch[r.BranchID]
		if !ok {
			s = &RatingSummary{
				BranchID:   r.BranchID,
				BranchName: names[r.BranchID],
				Histogram:  make(map[int]int),
				Tones:      make(map[string]int),
			}
			byBranch[r.BranchID] = s
		}
		s.Reviews++
		s.Histogram[r.Rating]++
		s.Tones[r.Tone.String()]++
		totals[r.BranchID] += r.Rating
	}

	out := make([]RatingSummary, 0, len(byBranch))
	for id, s := range byBranch {
		s.AverageRating = float64(totals[id]) / float64(s.Reviews)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BranchID < out[j].BranchID })
	return out
}
