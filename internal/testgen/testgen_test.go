package testgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/testcraft/internal/apperr"
	"github.com/ashureev/testcraft/internal/domain"
	"github.com/ashureev/testcraft/internal/llm"
	"github.com/ashureev/testcraft/internal/llm/llmtest"
)

var (
	testCfg     = Config{Model: "test-model"}
	pngHeader   = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	descPattern = regexp.MustCompile(`^Verify that .+, when .+`)
)

type memImages map[string][]byte

func (m memImages) ReadAll(name string) ([]byte, error) {
	data, ok := m[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func sampleList(n int) domain.TestCaseList {
	cases := make([]domain.TestCase, n)
	for i := range cases {
		cases[i] = domain.TestCase{
			ID:          fmt.Sprint(i + 1),
			Description: fmt.Sprintf("Verify that result %d is shown, when user searches", i+1),
			Steps:       []string{},
		}
	}
	return domain.TestCaseList{TestCases: cases}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestGenerateTextOnly(t *testing.T) {
	t.Parallel()

	stub := llmtest.New().Reply(OpGenerate, "```json\n"+mustJSON(t, sampleList(3))+"\n```")
	g := NewGenerator(stub, nil, testCfg, nil)

	list, err := g.Generate(context.Background(), GenerateInput{
		Background:   "Online bookstore app",
		Requirements: "User can search books by title",
	})
	require.NoError(t, err)
	require.Len(t, list.TestCases, 3)
	for _, tc := range list.TestCases {
		assert.Regexp(t, descPattern, tc.Description)
	}

	calls := stub.Calls()
	require.Len(t, calls, 1)
	assert.NotNil(t, calls[0].Schema)
	assert.Equal(t, 0, calls[0].ImageCount())
	assert.Contains(t, calls[0].Parts[0].Text, "Additional Information: Not Required")
}

func TestGenerateRejectsUnusableLists(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":         `{"testCases":[]}`,
		"duplicate ids": `{"testCases":[{"testCaseNumber":"1","testCase":"a","steps":[]},{"testCaseNumber":"1","testCase":"b","steps":[]}]}`,
		"missing id":    `{"testCases":[{"testCaseNumber":"","testCase":"a","steps":[]}]}`,
		"not json":      `Here are your test cases`,
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			stub := llmtest.New().Reply(OpGenerate, reply)
			_, err := NewGenerator(stub, nil, testCfg, nil).Generate(context.Background(), GenerateInput{Background: "a", Requirements: "b"})
			assert.True(t, apperr.Is(err, apperr.KindGeneration), "got %v", err)
			assert.Len(t, stub.Calls(), 1, "no retry")
		})
	}
}

func TestGenerateWithImagesSkipsUnreadable(t *testing.T) {
	t.Parallel()

	images := memImages{"a.png": pngHeader, "notes.txt": []byte("plain text")}
	stub := llmtest.New().Reply(OpGenerateImages, mustJSON(t, sampleList(2)))
	g := NewGenerator(stub, images, testCfg, nil)

	list, err := g.Generate(context.Background(), GenerateInput{
		Background:   "Shop",
		Requirements: "Checkout",
		Images:       []string{"missing.png", "a.png", "notes.txt"},
	})
	require.NoError(t, err)
	assert.Len(t, list.TestCases, 2)

	calls := stub.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].ImageCount())
	assert.Equal(t, "image/png", calls[0].Parts[0].MIMEType)
	last := calls[0].Parts[len(calls[0].Parts)-1]
	assert.Contains(t, last.Text, "Analyze all 1 provided image(s)")
}

func TestGenerateWithImagesExpiredDeadline(t *testing.T) {
	t.Parallel()

	stub := llmtest.New()
	g := NewGenerator(stub, memImages{"a.png": pngHeader}, testCfg, nil)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := g.Generate(ctx, GenerateInput{
		Background:   "Shop",
		Requirements: "Checkout",
		Images:       []string{"a.png"},
	})
	assert.True(t, apperr.Is(err, apperr.KindTimeout), "got %v", err)
	assert.Empty(t, stub.Calls())
}

func TestGenerateWithImagesFailsWhenNoneLoad(t *testing.T) {
	t.Parallel()

	stub := llmtest.New()
	g := NewGenerator(stub, memImages{}, testCfg, nil)

	_, err := g.Generate(context.Background(), GenerateInput{
		Background:   "Shop",
		Requirements: "Checkout",
		Images:       []string{"gone.png"},
	})
	assert.True(t, apperr.Is(err, apperr.KindGeneration))
	assert.Empty(t, stub.Calls())
}

func TestReviewDerivesFlagFromIssues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   string
		changes bool
		issues  int
	}{
		{"consistent", `{"changesRequired":true,"issues":[{"testCaseNumber":"1","issue":"vague","suggestedImprovement":"be specific"}]}`, true, 1},
		{"flag false with issues", `{"changesRequired":false,"issues":[{"testCaseNumber":"2","issue":"dup","suggestedImprovement":"remove"}]}`, true, 1},
		{"flag true without issues", `{"changesRequired":true,"issues":[]}`, false, 0},
		{"issues missing", `{"changesRequired":false}`, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			stub := llmtest.New().Reply(OpReview, tt.reply)
			res, err := NewReviewer(stub, testCfg, nil).Review(context.Background(), sampleList(3))
			require.NoError(t, err)
			assert.Equal(t, tt.changes, res.ChangesRequired)
			assert.Len(t, res.Issues, tt.issues)
			assert.NotNil(t, res.Issues)
		})
	}
}

func TestMergeWithoutIssuesMakesNoCall(t *testing.T) {
	t.Parallel()

	stub := llmtest.New()
	list := sampleList(4)

	out, err := NewMerger(stub, testCfg, nil).Merge(context.Background(), list, domain.NewReviewResult(nil))
	require.NoError(t, err)
	assert.Equal(t, list, out)
	assert.Empty(t, stub.Calls())
}

func TestMergeIgnoresUnknownIdentifiers(t *testing.T) {
	t.Parallel()

	stub := llmtest.New()
	list := sampleList(3)
	review := domain.NewReviewResult([]domain.ReviewIssue{{TestCaseID: "99", Issue: "x"}})

	out, err := NewMerger(stub, testCfg, nil).Merge(context.Background(), list, review)
	require.NoError(t, err)
	assert.Equal(t, list, out)
	assert.Empty(t, stub.Calls())
}

func TestMergeSendsOnlyFlaggedSubset(t *testing.T) {
	t.Parallel()

	list := sampleList(5)
	review := domain.NewReviewResult([]domain.ReviewIssue{
		{TestCaseID: "2", Issue: "vague", SuggestedImprovement: "clarify"},
		{TestCaseID: "4", Issue: "compound", SuggestedImprovement: "split"},
		{TestCaseID: "77", Issue: "ghost", SuggestedImprovement: "n/a"},
	})

	stub := llmtest.New().On(OpRevise, func(req llm.Request) (string, error) {
		prompt := req.Parts[0].Text
		assert.Contains(t, prompt, `"testCaseNumber":"2"`)
		assert.Contains(t, prompt, `"testCaseNumber":"4"`)
		assert.NotContains(t, prompt, `"testCaseNumber":"1"`)
		assert.NotContains(t, prompt, "ghost")
		// Returns a fix for 2, drops 4, and invents 9.
		return `{"testCases":[
			{"testCaseNumber":"9","testCase":"Verify that x, when y","steps":[]},
			{"testCaseNumber":"2","testCase":"Verify that the exact title is listed, when user searches by title","steps":["Open search"]}
		]}`, nil
	})

	out, err := NewMerger(stub, testCfg, nil).Merge(context.Background(), list, review)
	require.NoError(t, err)

	assert.Equal(t, list.IDs(), out.IDs())
	assert.Equal(t, "Verify that the exact title is listed, when user searches by title", out.TestCases[1].Description)
	assert.Equal(t, []string{"Open search"}, out.TestCases[1].Steps)
	assert.Equal(t, list.TestCases[3], out.TestCases[3], "dropped id keeps the original")
	for _, i := range []int{0, 2, 4} {
		assert.Equal(t, list.TestCases[i], out.TestCases[i])
	}
	assert.Equal(t, 1, stub.CallCount(OpRevise))
}

func TestMergePreservesShapeForAnyReview(t *testing.T) {
	t.Parallel()

	list := sampleList(6)
	replies := []string{
		`{"testCases":[]}`,
		`{"testCases":[{"testCaseNumber":"1","testCase":"","steps":null}]}`,
		`{"testCases":[{"testCaseNumber":"3","testCase":"Verify that a, when b","steps":null},{"testCaseNumber":"3","testCase":"Verify that c, when d","steps":[]}]}`,
	}
	for i, reply := range replies {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			t.Parallel()
			stub := llmtest.New().Reply(OpRevise, reply)
			review := domain.NewReviewResult([]domain.ReviewIssue{{TestCaseID: "1"}, {TestCaseID: "3"}, {TestCaseID: "6"}})

			out, err := NewMerger(stub, testCfg, nil).Merge(context.Background(), list, review)
			require.NoError(t, err)
			assert.Equal(t, list.IDs(), out.IDs())
			for _, tc := range out.TestCases {
				assert.NotNil(t, tc.Steps)
			}
		})
	}
}

func TestFeedbackKeepsLengthAndOrder(t *testing.T) {
	t.Parallel()

	list := sampleList(5)
	stub := llmtest.New().On(OpFeedback, func(req llm.Request) (string, error) {
		assert.Contains(t, req.Parts[0].Text, "please add edge cases for empty search results")
		// Reordered, truncated, with an invented id.
		return `{"testCases":[
			{"testCaseNumber":"3","testCase":"Verify that an empty-state message is shown, when a search returns no results","steps":[]},
			{"testCaseNumber":"1","testCase":"Verify that result 1 is shown, when user searches","steps":[]},
			{"testCaseNumber":"42","testCase":"Verify that z, when w","steps":[]}
		]}`, nil
	})

	out, err := NewFeedbackReviser(stub, testCfg, nil).Apply(context.Background(), list, "please add edge cases for empty search results")
	require.NoError(t, err)

	require.Len(t, out.TestCases, 5)
	assert.Equal(t, list.IDs(), out.IDs())
	assert.NotEqual(t, list.TestCases[2].Description, out.TestCases[2].Description)
	assert.Equal(t, list.TestCases[4], out.TestCases[4])
}

func TestFeedbackProviderFailure(t *testing.T) {
	t.Parallel()

	stub := llmtest.New().Fail(OpFeedback, errors.New("upstream 500"))
	_, err := NewFeedbackReviser(stub, testCfg, nil).Apply(context.Background(), sampleList(2), "fix it")
	assert.True(t, apperr.Is(err, apperr.KindProvider))
}

func TestFeedbackRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()

	list := domain.TestCaseList{TestCases: []domain.TestCase{
		{ID: "1", Description: "Verify that A is shown, when x"},
		{ID: "1", Description: "Verify that B is shown, when y"},
	}}
	stub := llmtest.New().Reply(OpFeedback, `{"testCases":[
		{"testCaseNumber":"1","testCase":"Verify that A2 is shown, when x","steps":[]},
		{"testCaseNumber":"1","testCase":"Verify that B2 is shown, when y","steps":[]}
	]}`)

	_, err := NewFeedbackReviser(stub, testCfg, nil).Apply(context.Background(), list, "rename both")
	assert.True(t, apperr.Is(err, apperr.KindGeneration), "got %v", err)
	assert.Zero(t, stub.CallCount(OpFeedback))
}

func TestEnhance(t *testing.T) {
	t.Parallel()

	stub := llmtest.New().On(OpEnhance, func(req llm.Request) (string, error) {
		assert.True(t, strings.HasSuffix(req.Parts[0].Text, "Additional Information: Not Mandatory"))
		return `{"enhancedBackground":"B","enhancedRequirements":"R","enhancedAdditionalInformation":"A"}`, nil
	})

	out, err := NewEnhancer(stub, testCfg, nil).Enhance(context.Background(), EnhanceInput{Background: "b", Requirements: "r"})
	require.NoError(t, err)
	assert.Equal(t, domain.EnhancedQuery{Background: "B", Requirements: "R", AdditionalInformation: "A"}, out)
}
