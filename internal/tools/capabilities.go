package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ytnobody/riskcrew/internal/docs"
	"github.com/ytnobody/riskcrew/internal/ledger"
	"github.com/ytnobody/riskcrew/internal/records"
)

const (
	GetComments         = "get_comments"
	GetCompanies        = "get_companies"
	FindBranch          = "find_branch"
	BranchRatingSummary = "branch_rating_summary"
	GetRiskMethodology  = "get_risk_methodology"
	GetWrongPractices   = "get_wrong_practices"
	SaveInsight         = "save_insight"
)

// Ledger keys for the snapshots taken by get_comments and get_companies.
const (
	SnapshotComments  = "comments"
	SnapshotCompanies = "companies"
)

type Deps struct {
	Records records.Store
	Docs    docs.Store
	Ledger  *ledger.Ledger
}

type commentsArgs struct {
	BranchID *int `json:"branch_id,omitempty" jsonschema_description:"Only return reviews of this branch id. Omit for all reviews."`
}

type findBranchArgs struct {
	Query string `json:"query" jsonschema_description:"Part of the branch name or address."`
}

type summaryArgs struct {
	BranchID *int `json:"branch_id,omitempty" jsonschema_description:"Summarise a single branch. Omit for every branch."`
}

type saveInsightArgs struct {
	Text string `json:"text" jsonschema_description:"A short self-contained finding worth reusing later."`
}

type noArgs struct{}

// Capabilities returns every capability bound to one session's stores and
// ledger.
func Capabilities(d Deps) Set {
	return Set{
		New(GetComments,
			"Returns customer reviews of bank branches: branch id (vsp_id), date, rating 1-5, comment, tone and expertise.",
			func(ctx context.Context, in commentsArgs) (string, error) {
				var (
					reviews []records.Review
					err     error
				)
				if in.BranchID != nil {
					reviews, err = d.Records.ReviewsForBranch(ctx, *in.BranchID)
				} else {
					reviews, err = d.Records.Reviews(ctx)
				}
				if err != nil {
					return "", err
				}
				if reviews == nil {
					reviews = []records.Review{}
				}
				d.Ledger.AddHistoricalData(SnapshotComments, reviews)
				return toJSON(reviews)
			}),
		New(GetCompanies,
			"Returns the bank branches that have reviews: id, name, address and coordinates.",
			func(ctx context.Context, _ noArgs) (string, error) {
				branches, err := d.Records.Branches(ctx)
				if err != nil {
					return "", err
				}
				d.Ledger.AddHistoricalData(SnapshotCompanies, branches)
				return toJSON(branches)
			}),
		New(FindBranch,
			"Finds branches whose name or address contains the query, case-insensitively.",
			func(ctx context.Context, in findBranchArgs) (string, error) {
				if in.Query == "" {
					return "", fmt.Errorf("query must not be empty")
				}
				found, err := records.SearchBranches(ctx, d.Records, in.Query)
				if err != nil {
					return "", err
				}
				if len(found) == 0 {
					return fmt.Sprintf("no branch matches %q", in.Query), nil
				}
				return toJSON(found)
			}),
		New(BranchRatingSummary,
			"Returns per-branch review count, average rating, rating histogram and tone distribution.",
			func(ctx context.Context, in summaryArgs) (string, error) {
				branches, err := d.Records.Branches(ctx)
				if err != nil {
					return "", err
				}
				var reviews []records.Review
				if in.BranchID != nil {
					reviews, err = d.Records.ReviewsForBranch(ctx, *in.BranchID)
				} else {
					reviews, err = d.Records.Reviews(ctx)
				}
				if err != nil {
					return "", err
				}
				return toJSON(records.Summarize(branches, reviews))
			}),
		New(GetRiskMethodology,
			"Returns the key provisions of the Bank of Russia 716-P operational risk methodology.",
			func(ctx context.Context, _ noArgs) (string, error) {
				return d.Docs.Document(ctx, docs.RiskMethodology)
			}),
		New(GetWrongPractices,
			"Returns the catalogue of known unfair and bad practices in retail banking.",
			func(ctx context.Context, _ noArgs) (string, error) {
				return d.Docs.Document(ctx, docs.WrongPractices)
			}),
		New(SaveInsight,
			"Saves a finding to the shared memory so later agents and revisions can reuse it.",
			func(_ context.Context, in saveInsightArgs) (string, error) {
				if in.Text == "" {
					return "", fmt.Errorf("text must not be empty")
				}
				key := d.Ledger.AddInsight(in.Text)
				return fmt.Sprintf("Insight saved under key %s", key), nil
			}),
	}
}

func toJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(data), nil
}
