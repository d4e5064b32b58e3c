package domain

// TestCase is a single manual test case. ID is stable across review and revision.
type TestCase struct {
	ID          string   `json:"testCaseNumber" yaml:"id" validate:"required"`
	Description string   `json:"testCase" yaml:"description" validate:"required"`
	Steps       []string `json:"steps" yaml:"steps"`
}

// TestCaseList is an ordered collection of test cases; order is display order.
type TestCaseList struct {
	TestCases []TestCase `json:"testCases"`
}

// IDs returns the identifiers of the list in order.
func (l TestCaseList) IDs() []string {
	ids := make([]string, 0, len(l.TestCases))
	for _, tc := range l.TestCases {
		ids = append(ids, tc.ID)
	}
	return ids
}

// Normalize replaces nil step slices with empty ones so they serialize as [].
func (l TestCaseList) Normalize() TestCaseList {
	out := make([]TestCase, len(l.TestCases))
	for i, tc := range l.TestCases {
		if tc.Steps == nil {
			tc.Steps = []string{}
		}
		out[i] = tc
	}
	return TestCaseList{TestCases: out}
}

// ReviewIssue is one reviewer finding against a test case.
type ReviewIssue struct {
	TestCaseID           string `json:"testCaseNumber"`
	Issue                string `json:"issue"`
	SuggestedImprovement string `json:"suggestedImprovement"`
}

// ReviewResult is the outcome of a review. ChangesRequired is always
// derived from Issues, never trusted from the provider.
type ReviewResult struct {
	ChangesRequired bool          `json:"changesRequired"`
	Issues          []ReviewIssue `json:"issues"`
}

// NewReviewResult builds a result whose flag agrees with its issues.
func NewReviewResult(issues []ReviewIssue) ReviewResult {
	if issues == nil {
		issues = []ReviewIssue{}
	}
	return ReviewResult{ChangesRequired: len(issues) > 0, Issues: issues}
}

// FlaggedIDs returns the set of test case identifiers referenced by issues.
func (r ReviewResult) FlaggedIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(r.Issues))
	for _, issue := range r.Issues {
		if issue.TestCaseID == "" {
			continue
		}
		ids[issue.TestCaseID] = struct{}{}
	}
	return ids
}

// EnhancedQuery is the rewritten input produced by the query enhancer.
type EnhancedQuery struct {
	Background            string `json:"enhancedBackground"`
	Requirements          string `json:"enhancedRequirements"`
	AdditionalInformation string `json:"enhancedAdditionalInformation"`
}
