package catalog

import (
	"errors"

	"dvetransfer/internal/services"
)

// Error codes carried in the JSON body of non-2xx catalog responses.
const (
	codeNotFound      = "not_found"
	codeDatasetExists = "dataset_exists"
	codeNotSkeleton   = "not_skeleton"
	codeVersionGap    = "version_gap"
	codeConsistency   = "consistency"
	codeInvalid       = "invalid_request"
	codeInternal      = "internal"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return codeNotFound
	case errors.Is(err, ErrDatasetExists):
		return codeDatasetExists
	case errors.Is(err, ErrNotSkeleton):
		return codeNotSkeleton
	case errors.Is(err, ErrVersionGap):
		return codeVersionGap
	case errors.Is(err, services.ErrConsistency):
		return codeConsistency
	case errors.Is(err, services.ErrValidation):
		return codeInvalid
	default:
		return codeInternal
	}
}

func errorForCode(code string) error {
	switch code {
	case codeNotFound:
		return ErrNotFound
	case codeDatasetExists:
		return ErrDatasetExists
	case codeNotSkeleton:
		return ErrNotSkeleton
	case codeVersionGap:
		return ErrVersionGap
	case codeConsistency:
		return services.ErrConsistency
	case codeInvalid:
		return services.ErrValidation
	default:
		return nil
	}
}
