package llm

import (
	"google.golang.org/genai"
)

// TestCaseListSchema describes {testCases:[{testCaseNumber,testCase,steps}]}.
func TestCaseListSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"testCases": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"testCaseNumber": {
							Type:        genai.TypeString,
							Description: "Unique test case identifier (e.g., 1, 2, 3)",
						},
						"testCase": {
							Type:        genai.TypeString,
							Description: "Test case description following the format: Verify that <expected result>, when <action>",
						},
						"steps": {
							Type:        genai.TypeArray,
							Items:       &genai.Schema{Type: genai.TypeString},
							Description: "Array of test steps if required, otherwise empty array",
						},
					},
					Required:         []string{"testCaseNumber", "testCase", "steps"},
					PropertyOrdering: []string{"testCaseNumber", "testCase", "steps"},
				},
			},
		},
		Required: []string{"testCases"},
	}
}

// ReviewSchema describes {changesRequired, issues:[{testCaseNumber,issue,suggestedImprovement}]}.
func ReviewSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"changesRequired": {
				Type:        genai.TypeBoolean,
				Description: "Whether changes are required to the test cases",
			},
			"issues": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"testCaseNumber": {
							Type:        genai.TypeString,
							Description: "Test case number that has issues (1,2,3...)",
						},
						"issue": {
							Type:        genai.TypeString,
							Description: "Description of the issue",
						},
						"suggestedImprovement": {
							Type:        genai.TypeString,
							Description: "Suggested improvement for the issue",
						},
					},
					Required: []string{"testCaseNumber", "issue", "suggestedImprovement"},
				},
			},
		},
		Required: []string{"changesRequired", "issues"},
	}
}

// VerdictSchema describes a single-field object whose value is "yes" or "no".
func VerdictSchema(field string) *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			field: {
				Type:   genai.TypeString,
				Format: "enum",
				Enum:   []string{"yes", "no"},
			},
		},
		Required: []string{field},
	}
}

// EnhancedQuerySchema describes the query enhancer output.
func EnhancedQuerySchema() *genai.Schema {
	str := func() *genai.Schema { return &genai.Schema{Type: genai.TypeString} }
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"enhancedBackground":            str(),
			"enhancedRequirements":          str(),
			"enhancedAdditionalInformation": str(),
		},
		Required: []string{"enhancedBackground", "enhancedRequirements", "enhancedAdditionalInformation"},
	}
}
