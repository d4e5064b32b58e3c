//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/testcraft/internal/abuse"
	"github.com/ashureev/testcraft/internal/apperr"
	"github.com/ashureev/testcraft/internal/blob"
	"github.com/ashureev/testcraft/internal/domain"
	"github.com/ashureev/testcraft/internal/flow"
	"github.com/ashureev/testcraft/internal/identity"
	"github.com/ashureev/testcraft/internal/llm/llmtest"
	"github.com/ashureev/testcraft/internal/middleware"
	"github.com/ashureev/testcraft/internal/moderation"
	"github.com/ashureev/testcraft/internal/store"
	"github.com/ashureev/testcraft/internal/testgen"
)

const generated = `{"testCases":[
	{"testCaseNumber":"1","testCase":"Verify that matching books are listed, when user searches by full title","steps":[]},
	{"testCaseNumber":"2","testCase":"Verify that partial matches are listed, when user searches by part of a title","steps":[]},
	{"testCaseNumber":"3","testCase":"Verify that results show title and author, when results are displayed","steps":[]}
]}`

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

type server struct {
	handler http.Handler
	stub    *llmtest.Stub
	repo    store.Repository
	blobs   *blob.Store
}

func newServer(t *testing.T, perMinute int) *server {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	blobs, err := blob.NewStore(filepath.Join(t.TempDir(), "uploads"), nil)
	require.NoError(t, err)

	stub := llmtest.New().
		Reply(moderation.OpLanguage, `{"isEnglish":"yes"}`).
		Reply(moderation.OpSafety, `{"harmful":"no"}`).
		Reply(moderation.OpIntent, `{"validIntent":"yes"}`).
		Reply(moderation.OpFeedbackIntent, `{"validIntent":"yes"}`).
		Reply(testgen.OpGenerate, generated).
		Reply(testgen.OpGenerateImages, generated).
		Reply(testgen.OpReview, `{"changesRequired":false,"issues":[]}`)

	flows := flow.New(stub, abuse.NewTracker(repo, abuse.DefaultPolicy(), nil), blobs,
		flow.Settings{Gates: moderation.Config{Model: "m"}, Generation: testgen.Config{Model: "m"}}, nil)

	verifier := identity.VerifierFunc(func(_ context.Context, credential string) (identity.Claims, error) {
		if !strings.HasPrefix(credential, "good-") {
			return identity.Claims{}, identity.ErrInvalidCredential
		}
		sub := strings.TrimPrefix(credential, "good-")
		return identity.Claims{Subject: sub, Email: sub + "@example.com", Name: "User " + sub, EmailVerified: true}, nil
	})
	auth := identity.NewAuthenticator(verifier, repo, 0, nil)

	var limiter *middleware.RateLimiter
	if perMinute > 0 {
		limiter = middleware.NewRateLimiter(perMinute)
	}

	h := NewRouter(RouterConfig{
		Auth:          NewAuthHandler(auth, flows, nil),
		TestCases:     NewTestCaseHandler(flows, blobs, DefaultUploadLimits(), nil),
		Progress:      NewProgressHandler(flows, "", true, nil),
		Health:        NewHealthHandler(repo, 0),
		Authenticator: auth,
		Blocks:        flows,
		Limiter:       limiter,
		Origins:       []string{"*"},
	})
	return &server{handler: h, stub: stub, repo: repo, blobs: blobs}
}

func (s *server) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *server) login(t *testing.T, sub string) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/auth/google", "", map[string]string{"idToken": "good-" + sub})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type generateEnvelope struct {
	Success bool             `json:"success"`
	Data    generateResponse `json:"data"`
	Message string           `json:"message"`
}

func TestJSON(t *testing.T) {
	t.Parallel()
	w := httptest.NewRecorder()

	JSON(w, http.StatusOK, map[string]string{"foo": "bar"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	got := decode[map[string]string](t, w)
	assert.Equal(t, "bar", got["foo"])
}

func TestStatusForKind(t *testing.T) {
	t.Parallel()
	cases := map[apperr.Kind]int{
		apperr.KindLanguage:       http.StatusBadRequest,
		apperr.KindHarmfulContent: http.StatusBadRequest,
		apperr.KindInvalidIntent:  http.StatusBadRequest,
		apperr.KindUserBlocked:    http.StatusForbidden,
		apperr.KindGeneration:     http.StatusInternalServerError,
		apperr.KindProvider:       http.StatusBadGateway,
		apperr.KindTimeout:        http.StatusGatewayTimeout,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusForKind(kind), kind)
	}
}

func TestErrorBodyForUntaggedError(t *testing.T) {
	t.Parallel()
	status, body := errorBodyFor(errors.New("disk on fire"), nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Internal server error", body.Error)
	assert.Empty(t, body.Type)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newServer(t, 0)

	for _, path := range []string{"/health", "/api/health"} {
		w := s.do(t, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, w.Code, path)
		resp := decode[healthResponse](t, w)
		assert.Equal(t, "OK", resp.Status)
		assert.Equal(t, "ok", resp.Checks["database"])
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()
	s := newServer(t, 0)

	t.Run("success", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/auth/google", "", map[string]string{"idToken": "good-alice"})
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[loginResponse](t, w)
		assert.True(t, resp.Success)
		assert.Equal(t, "alice", resp.User.GoogleID)
		assert.Equal(t, "alice@example.com", resp.User.Email)
		assert.Equal(t, 0, resp.User.ViolationCount)
	})

	t.Run("invalid token", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/auth/google", "", map[string]string{"idToken": "forged"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/auth/google", "", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode[ErrorBody](t, w).Details, "idToken")
	})
}

func TestFlowRoutesRequireSession(t *testing.T) {
	t.Parallel()
	s := newServer(t, 0)

	w := s.do(t, http.MethodPost, "/api/generate-test-cases", "", map[string]string{"description": "d", "requirements": "r"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, http.MethodPost, "/api/generate-test-cases", "not-a-session", map[string]string{"description": "d", "requirements": "r"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, s.stub.Calls())
}

func TestLogoutRevokesSession(t *testing.T) {
	t.Parallel()
	s := newServer(t, 0)
	token := s.login(t, "bob")

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/auth/logout", token, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/me", token, nil).Code)
}

func TestGenerateTestCases(t *testing.T) {
	t.Parallel()
	s := newServer(t, 0)
	token := s.login(t, "alice")

	w := s.do(t, http.MethodPost, "/api/generate-test-cases", token, map[string]string{
		"description":  "Online bookstore app",
		"requirements": "User can search books by title",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[generateEnvelope](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, "Test cases generated successfully", resp.Message)
	require.Len(t, resp.Data.TestCases, 3)
	assert.False(t, resp.Data.Review.ChangesRequired)
}

func TestGenerateTestCasesValidation(t *testing.T) {
	t.Parallel()
	s := newServer(t, 0)
	token := s.login(t, "alice")

	w := s.do(t, http.MethodPost, "/api/generate-test-cases", token, map[string]string{"description": "only this"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode[ErrorBody](t, w).Details, "requirements")
	assert.Empty(t, s.stub.Calls())
}

func TestGateFailureMapsToKind(t *testing.T) {
	t.Parallel()
	s := newServer(t, 0)
	s.stub.Reply(moderation.OpLanguage, `{"isEnglish":"no"}`)
	token := s.login(t, "alice")

	w := s.do(t, http.MethodPost, "/api/optimize-query", token, map[string]string{"background": "b", "requirements": "r"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[ErrorBody](t, w)
	assert.Equal(t, string(apperr.KindLanguage), body.Type)
	assert.Equal(t, apperr.KindLanguage.Message(), body.Details)
}

func TestProviderFailureIs502(t *testing.T) {
	t.Parallel()
	s := newServer(t, 0)
	s.stub.Fail(testgen.OpGenerate, errors.New("upstream 503"))
	token := s.login(t, "alice")

	w := s.do(t, http.MethodPost, "/api/generate-test-cases", token, map[string]string{"description": "d", "requirements": "r"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, string(apperr.KindProvider), decode[ErrorBody](t, w).Type)
}

func TestRepeatedHarmfulContentBlocksUser(t *testing.T) {
	t.Parallel()
	s := newServer(t, 0)
	s.stub.Reply(moderation.OpSafety, `{"harmful":"yes"}`)
	token := s.login(t, "mallory")
	body := map[string]string{"description": "bad", "requirements": "things"}

	w := s.do(t, http.MethodPost, "/api/generate-test-cases", token, body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperr.KindHarmfulContent), decode[ErrorBody](t, w).Type)

	w = s.do(t, http.MethodPost, "/api/generate-test-cases", token, body)
	require.Equal(t, http.StatusForbidden, w.Code)
	blocked := decode[ErrorBody](t, w)
	assert.Equal(t, string(apperr.KindUserBlocked), blocked.Type)
	require.NotNil(t, blocked.BlockInfo)
	assert.True(t, blocked.BlockInfo.IsBlocked)
	assert.Positive(t, blocked.BlockInfo.RemainingTime)
	assert.Equal(t, 2, blocked.BlockInfo.ViolationCount)

	calls := len(s.stub.Calls())
	w = s.do(t, http.MethodPost, "/api/optimize-query", token, map[string]string{"background": "b", "requirements": "r"})
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, decode[ErrorBody](t, w).Details, "Block expires in 48 hours")
	assert.Len(t, s.stub.Calls(), calls, "blocked users must not reach the model")

	// Profile stays readable while blocked.
	w = s.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"isBlocked":true`)

	// Login is refused while blocked.
	w = s.do(t, http.MethodPost, "/api/auth/google", "", map[string]string{"idToken": "good-mallory"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestApplyHumanFeedback(t *testing.T) {
	t.Parallel()
	s := newServer(t, 0)
	s.stub.Reply(testgen.OpFeedback, `{"testCases":[
		{"testCaseNumber":"1","testCase":"Verify that matching books are listed, when user searches by exact full title","steps":[]},
		{"testCaseNumber":"2","testCase":"Verify that partial matches are listed, when user searches by part of a title","steps":[]}
	]}`)
	token := s.login(t, "alice")

	list := []domain.TestCase{
		{ID: "1", Description: "Verify that matching books are listed, when user searches by full title"},
		{ID: "2", Description: "Verify that partial matches are listed, when user searches by part of a title"},
	}

	for name, testCases := range map[string]interface{}{
		"bare array": list,
		"wrapped":    domain.TestCaseList{TestCases: list},
	} {
		t.Run(name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/apply-human-feedback", token, map[string]interface{}{
				"testCases":      testCases,
				"feedbackPoints": "Mention exact titles",
			})
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Contains(t, w.Body.String(), "exact full title")
			assert.Contains(t, w.Body.String(), "Test cases updated based on human feedback")
		})
	}
}

func TestApplyHumanFeedbackErrorCopy(t *testing.T) {
	t.Parallel()
	s := newServer(t, 0)
	s.stub.Reply(moderation.OpFeedbackIntent, `{"validIntent":"no"}`)
	token := s.login(t, "alice")

	w := s.do(t, http.MethodPost, "/api/apply-human-feedback", token, map[string]interface{}{
		"testCases":      []domain.TestCase{{ID: "1", Description: "Verify that x, when y"}},
		"feedbackPoints": "What is the weather today?",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[ErrorBody](t, w)
	assert.Equal(t, "Invalid Feedback Scope", body.Error)
	assert.Equal(t, string(apperr.KindInvalidIntent), body.Type)
}

func TestApplyHumanFeedbackValidation(t *testing.T) {
	t.Parallel()
	s := newServer(t, 0)
	token := s.login(t, "alice")

	for name, testCases := range map[string][]domain.TestCase{
		"empty": {},
		"duplicate ids": {
			{ID: "1", Description: "Verify that A is shown, when x"},
			{ID: "1", Description: "Verify that B is shown, when y"},
		},
	} {
		t.Run(name, func(t *testing.T) {
			w := s.do(t, http.MethodPost, "/api/apply-human-feedback", token, map[string]interface{}{
				"testCases":      testCases,
				"feedbackPoints": "more",
			})
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
	assert.Zero(t, s.stub.CallCount(testgen.OpFeedback))
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, data := range files {
		fw, err := mw.CreateFormFile("images", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (s *server) upload(t *testing.T, token string, fields map[string]string, files map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, fields, files)
	req := httptest.NewRequest(http.MethodPost, "/api/generate-test-cases-with-images", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func TestGenerateWithImages(t *testing.T) {
	t.Parallel()
	s := newServer(t, 0)
	token := s.login(t, "alice")

	w := s.upload(t, token, map[string]string{
		"description":             "Checkout page",
		"requirements":            "User can pay by card",
		"overallMockInstructions": "Use card 4242",
	}, map[string][]byte{"screen.png": pngHeader})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Test cases generated successfully with images", decode[generateEnvelope](t, w).Message)

	calls := s.stub.Calls()
	var gen bool
	for _, c := range calls {
		if c.Op == testgen.OpGenerateImages {
			gen = true
			assert.Equal(t, 1, c.ImageCount())
		}
		if c.Op == moderation.OpIntent {
			assert.Contains(t, c.Parts[len(c.Parts)-1].Text, "Mock Instructions: Use card 4242")
		}
	}
	assert.True(t, gen)

	entries, err := os.ReadDir(s.blobs.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "uploads are released after the flow")
}

func TestGenerateWithImagesRejections(t *testing.T) {
	t.Parallel()
	s := newServer(t, 0)
	token := s.login(t, "alice")
	fields := map[string]string{"description": "d", "requirements": "r"}

	tooMany := make(map[string][]byte)
	for i := 0; i < 11; i++ {
		tooMany[fmt.Sprintf("s%d.png", i)] = pngHeader
	}

	tests := []struct {
		name  string
		files map[string][]byte
		want  string
	}{
		{"no images", nil, "At least one image"},
		{"not an image", map[string][]byte{"notes.txt": []byte("plain text, not a picture")}, "Only image files"},
		{"too many", tooMany, "Too many files"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.upload(t, token, fields, tt.files)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decode[ErrorBody](t, w).Error, tt.want)
		})
	}

	entries, err := os.ReadDir(s.blobs.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, s.stub.Calls())
}

func TestRateLimitPerUser(t *testing.T) {
	t.Parallel()
	s := newServer(t, 1)
	alice := s.login(t, "alice")
	bob := s.login(t, "bob")
	body := map[string]string{"background": "b", "requirements": "r"}
	s.stub.Reply(testgen.OpEnhance, `{"enhancedBackground":"B","enhancedRequirements":"R","enhancedAdditionalInformation":"A"}`)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/optimize-query", alice, body).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodPost, "/api/optimize-query", alice, body).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/optimize-query", bob, body).Code)
}
