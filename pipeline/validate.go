package pipeline

import (
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate
)

// sharedValidator returns the package-wide validator instance, built once.
// It runs the struct-tag pass (required fields, node-kind enum, non-negative
// durations) that sits under the DAG Validator's graph-shape checks.
func sharedValidator() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New()
	})
	return validatorInst
}
