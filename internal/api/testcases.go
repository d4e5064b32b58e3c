package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/ashureev/testcraft/internal/apperr"
	"github.com/ashureev/testcraft/internal/blob"
	"github.com/ashureev/testcraft/internal/domain"
	"github.com/ashureev/testcraft/internal/flow"
	"github.com/ashureev/testcraft/internal/identity"
)

// UploadLimits bounds multipart image uploads.
type UploadLimits struct {
	MaxFileBytes int64
	MaxFiles     int
}

// DefaultUploadLimits returns 10 files of at most 10 MB each.
func DefaultUploadLimits() UploadLimits {
	return UploadLimits{MaxFileBytes: 10 << 20, MaxFiles: 10}
}

var feedbackCopy = errorCopy{
	apperr.KindHarmfulContent: {
		"Content Safety Violation",
		"The provided feedback has been flagged as harmful or inappropriate. Please revise your feedback and try again.",
	},
	apperr.KindInvalidIntent: {
		"Invalid Feedback Scope",
		"Your feedback does not appear to be related to software test case improvement. Please provide feedback that focuses on test case quality, clarity, coverage, or accuracy.",
	},
}

// TestCaseHandler serves the generate, enhance and feedback flows.
type TestCaseHandler struct {
	flows  *flow.Service
	blobs  *blob.Store
	limits UploadLimits
	logger *slog.Logger
}

// NewTestCaseHandler creates a handler for the flow endpoints.
func NewTestCaseHandler(flows *flow.Service, blobs *blob.Store, limits UploadLimits, logger *slog.Logger) *TestCaseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultUploadLimits()
	if limits.MaxFileBytes <= 0 {
		limits.MaxFileBytes = def.MaxFileBytes
	}
	if limits.MaxFiles <= 0 {
		limits.MaxFiles = def.MaxFiles
	}
	return &TestCaseHandler{flows: flows, blobs: blobs, limits: limits, logger: logger}
}

// RegisterRoutes registers the flow routes. Callers mount them behind
// authentication and the block check.
func (h *TestCaseHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/generate-test-cases", h.GenerateTestCases)
	r.Post("/api/generate-test-cases-with-images", h.GenerateTestCasesWithImages)
	r.Post("/api/optimize-query", h.OptimizeQuery)
	r.Post("/api/apply-human-feedback", h.ApplyHumanFeedback)
}

type generateRequest struct {
	Description        string `json:"description" validate:"required"`
	Requirements       string `json:"requirements" validate:"required"`
	CustomInstructions string `json:"customInstructions"`
}

type generateResponse struct {
	TestCases []domain.TestCase   `json:"testCases"`
	Review    domain.ReviewResult `json:"review"`
}

func newGenerateResponse(res flow.GenerateResult) generateResponse {
	return generateResponse{TestCases: res.TestCases.Normalize().TestCases, Review: res.Review}
}

// GenerateTestCases runs the generate flow on a text-only request.
func (h *TestCaseHandler) GenerateTestCases(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorBody{Error: "Description and requirements are required", Details: err.Error()})
		return
	}

	res, err := h.flows.Generate(r.Context(), flow.GenerateRequest{
		UserID:         identity.UserIDFromContext(r.Context()),
		Background:     req.Description,
		Requirements:   req.Requirements,
		AdditionalInfo: req.CustomInstructions,
	})
	if err != nil {
		writeFlowError(w, h.logger, err, nil)
		return
	}
	Success(w, newGenerateResponse(res), "Test cases generated successfully")
}

// GenerateTestCasesWithImages runs the generate flow on a multipart request
// carrying 1 to MaxFiles images in the "images" field.
func (h *TestCaseHandler) GenerateTestCasesWithImages(w http.ResponseWriter, r *http.Request) {
	maxBody := h.limits.MaxFileBytes*int64(h.limits.MaxFiles) + maxJSONBody
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		JSON(w, http.StatusBadRequest, ErrorBody{Error: "Invalid multipart request", Details: err.Error()})
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Debug("Failed to remove multipart temp files", "error", err)
		}
	}()

	description := strings.TrimSpace(r.FormValue("description"))
	requirements := strings.TrimSpace(r.FormValue("requirements"))
	if description == "" || requirements == "" {
		Error(w, http.StatusBadRequest, "Description and requirements are required")
		return
	}

	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		Error(w, http.StatusBadRequest, "At least one image is required for this endpoint")
		return
	}
	if len(files) > h.limits.MaxFiles {
		Error(w, http.StatusBadRequest, fmt.Sprintf("Too many files. Maximum is %d images.", h.limits.MaxFiles))
		return
	}

	names, uerr := h.storeImages(files)
	if uerr != nil {
		Error(w, uerr.status, uerr.msg)
		return
	}

	// The flow owns the stored blobs from here and releases them on return.
	res, err := h.flows.Generate(r.Context(), flow.GenerateRequest{
		UserID:         identity.UserIDFromContext(r.Context()),
		Background:     description,
		Requirements:   requirements,
		AdditionalInfo: flow.CombineAdditionalInfo(r.FormValue("customInstructions"), r.FormValue("overallMockInstructions")),
		Images:         names,
	})
	if err != nil {
		writeFlowError(w, h.logger, err, nil)
		return
	}
	Success(w, newGenerateResponse(res), "Test cases generated successfully with images")
}

// uploadError is a rejected upload with its HTTP status and client message.
type uploadError struct {
	status int
	msg    string
}

func (e *uploadError) Error() string { return e.msg }

// storeImages validates every upload and writes it to the blob store.
// On any failure the already stored blobs are removed.
func (h *TestCaseHandler) storeImages(files []*multipart.FileHeader) ([]string, *uploadError) {
	names := make([]string, 0, len(files))
	for _, fh := range files {
		name, uerr := h.storeImage(fh)
		if uerr != nil {
			h.blobs.RemoveAll(names)
			return nil, uerr
		}
		names = append(names, name)
	}
	return names, nil
}

func (h *TestCaseHandler) storeImage(fh *multipart.FileHeader) (string, *uploadError) {
	if fh.Size > h.limits.MaxFileBytes {
		return "", &uploadError{http.StatusBadRequest,
			fmt.Sprintf("File size too large. Maximum size is %dMB.", h.limits.MaxFileBytes>>20)}
	}
	f, err := fh.Open()
	if err != nil {
		return "", &uploadError{http.StatusBadRequest, fmt.Sprintf("Failed to read upload %q", fh.Filename)}
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 3072)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", &uploadError{http.StatusBadRequest, fmt.Sprintf("Failed to read upload %q", fh.Filename)}
	}
	head = head[:n]
	mt := mimetype.Detect(head)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", &uploadError{http.StatusBadRequest, "Only image files are allowed!"}
	}

	name, err := h.blobs.Write(io.MultiReader(bytes.NewReader(head), f), mt.Extension())
	if err != nil {
		h.logger.Error("Failed to store upload", "filename", fh.Filename, "error", err)
		return "", &uploadError{http.StatusInternalServerError, "Failed to store upload"}
	}
	return name, nil
}

type enhanceRequest struct {
	Background            string `json:"background" validate:"required"`
	Requirements          string `json:"requirements" validate:"required"`
	AdditionalInformation string `json:"additionalInformation"`
}

// OptimizeQuery runs the enhance flow.
func (h *TestCaseHandler) OptimizeQuery(w http.ResponseWriter, r *http.Request) {
	var req enhanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorBody{Error: "Background and requirements are required", Details: err.Error()})
		return
	}

	q, err := h.flows.Enhance(r.Context(), flow.EnhanceRequest{
		UserID:         identity.UserIDFromContext(r.Context()),
		Background:     req.Background,
		Requirements:   req.Requirements,
		AdditionalInfo: req.AdditionalInformation,
	})
	if err != nil {
		writeFlowError(w, h.logger, err, nil)
		return
	}
	Success(w, q, "Query optimized successfully")
}

// testCasesInput accepts either a bare array of test cases or an object
// wrapping them under "testCases".
type testCasesInput []domain.TestCase

func (t *testCasesInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []domain.TestCase
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*t = list
		return nil
	}
	var wrapped domain.TestCaseList
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	*t = wrapped.TestCases
	return nil
}

type feedbackRequest struct {
	TestCases      testCasesInput `json:"testCases" validate:"required,min=1,unique=ID,dive"`
	FeedbackPoints string         `json:"feedbackPoints" validate:"required"`
}

// ApplyHumanFeedback runs the feedback flow.
func (h *TestCaseHandler) ApplyHumanFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		JSON(w, http.StatusBadRequest, ErrorBody{Error: "Test cases and feedback points are required", Details: err.Error()})
		return
	}

	list, err := h.flows.ApplyFeedback(r.Context(), flow.FeedbackRequest{
		UserID:    identity.UserIDFromContext(r.Context()),
		TestCases: domain.TestCaseList{TestCases: req.TestCases},
		Feedback:  req.FeedbackPoints,
	})
	if err != nil {
		writeFlowError(w, h.logger, err, feedbackCopy)
		return
	}
	Success(w, list.Normalize(), "Test cases updated based on human feedback")
}
