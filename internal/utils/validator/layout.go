// internal/utils/validator/layout.go
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/feichai0017/timechange/pkg/logger"
)

// LayoutValidator checks that project subdirectories only hold the artifacts
// they are meant to hold.
type LayoutValidator struct {
	logger logger.Logger
	config *LayoutConfig
}

// LayoutConfig maps a subdirectory name to the file extension it may contain.
type LayoutConfig struct {
	AllowedExtensions map[string]string
	// RequiredFiles must exist directly under the root.
	RequiredFiles []string
	// MaxDepth is how many directory levels below a subdirectory may hold files.
	MaxDepth int
}

// ValidationResult collects every problem found in one pass.
type ValidationResult struct {
	IsValid bool              `json:"isValid"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// ValidationError describes one offending path.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

const (
	CodeMissingDirectory = "MISSING_DIRECTORY"
	CodeMissingFile      = "MISSING_FILE"
	CodeInvalidExtension = "INVALID_EXTENSION"
	CodeTooDeep          = "NESTED_TOO_DEEP"
	CodeUnreadable       = "UNREADABLE"
)

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Summary joins all error messages into one line.
func (r *ValidationResult) Summary() string {
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// DefaultLayoutConfig is the csv/images/models layout of a project.
func DefaultLayoutConfig() *LayoutConfig {
	return &LayoutConfig{
		AllowedExtensions: map[string]string{
			"csv":    ".csv",
			"images": ".png",
			"models": ".h5",
		},
		RequiredFiles: []string{"parameters.conf"},
		MaxDepth:      1,
	}
}

// NewLayoutValidator creates a validator; a nil config selects DefaultLayoutConfig.
func NewLayoutValidator(log logger.Logger, config *LayoutConfig) *LayoutValidator {
	if config == nil {
		config = DefaultLayoutConfig()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &LayoutValidator{
		logger: log,
		config: config,
	}
}

// Validate walks root and reports every layout violation.
func (v *LayoutValidator) Validate(root string) *ValidationResult {
	result := &ValidationResult{IsValid: true}

	dirs := make([]string, 0, len(v.config.AllowedExtensions))
	for dir := range v.config.AllowedExtensions {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		path := filepath.Join(root, dir)
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			result.add(ValidationError{
				Code:    CodeMissingDirectory,
				Message: "directory is missing",
				Path:    path,
			})
			continue
		}
		v.validateDir(result, path, v.config.AllowedExtensions[dir], 0)
	}

	for _, name := range v.config.RequiredFiles {
		path := filepath.Join(root, name)
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			result.add(ValidationError{
				Code:    CodeMissingFile,
				Message: "required file is missing",
				Path:    path,
			})
		}
	}

	if !result.IsValid {
		v.logger.Warn("Project layout is invalid",
			logger.String("root", root),
			logger.Int("problems", len(result.Errors)),
		)
	}
	return result
}

func (v *LayoutValidator) validateDir(result *ValidationResult, dir, ext string, depth int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		result.add(ValidationError{
			Code:    CodeUnreadable,
			Message: err.Error(),
			Path:    dir,
		})
		return
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if depth >= v.config.MaxDepth {
				result.add(ValidationError{
					Code:    CodeTooDeep,
					Message: "unexpected nested directory",
					Path:    path,
				})
				continue
			}
			v.validateDir(result, path, ext, depth+1)
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), ext) {
			result.add(ValidationError{
				Code:    CodeInvalidExtension,
				Message: fmt.Sprintf("expected a %s file", ext),
				Path:    path,
			})
		}
	}
}

func (r *ValidationResult) add(e ValidationError) {
	r.IsValid = false
	r.Errors = append(r.Errors, e)
}
