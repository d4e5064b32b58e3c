package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/testcraft/internal/domain"
)

// request is the YAML document every subcommand reads.
//
//	background: Online bookstore
//	requirements: User can search books by title
//	additionalInfo: Focus on edge cases
//	mockInstructions: Use the sample catalogue
//	images: [screens/search.png]
//	feedback: Add a case for empty results
//	testCases:
//	  - id: "1"
//	    description: Verify that ...
//	    steps: [Open the app]
type request struct {
	Background       string            `yaml:"background"`
	Requirements     string            `yaml:"requirements"`
	AdditionalInfo   string            `yaml:"additionalInfo"`
	MockInstructions string            `yaml:"mockInstructions"`
	Images           []string          `yaml:"images"`
	Feedback         string            `yaml:"feedback"`
	TestCases        []domain.TestCase `yaml:"testCases"`
}

func loadRequest(path string) (*request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	var req request
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	return &req, nil
}

func (r *request) requireQuery() error {
	if r.Background == "" || r.Requirements == "" {
		return errors.New("request needs background and requirements")
	}
	return nil
}

func (r *request) requireFeedback() error {
	if len(r.TestCases) == 0 || r.Feedback == "" {
		return errors.New("request needs testCases and feedback")
	}
	return nil
}
