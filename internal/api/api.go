// Package api declares the JSON payloads exchanged between the remote
// gateway and the HTTP server.
package api

import (
	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	json "github.com/goccy/go-json"
)

// Mutation operations accepted by POST /api/mutations/:operation.
const (
	OperationSave       = "save"
	OperationDelete     = "delete"
	OperationTerminate  = "terminate"
	OperationValidate   = "validate"
	OperationUnvalidate = "unvalidate"
	OperationQualify    = "qualify"
	OperationUnqualify  = "unqualify"
)

// QueryRequest is the body of POST /api/queries/:entity.
type QueryRequest struct {
	Offset        int             `json:"offset,omitempty"`
	Size          int             `json:"size,omitempty"`
	SortBy        string          `json:"sortBy,omitempty"`
	SortDirection string          `json:"sortDirection,omitempty"`
	Filter        entities.Filter `json:"filter"`
}

// QueryResponse carries one page of raw entities.
type QueryResponse struct {
	Data  []json.RawMessage `json:"data"`
	Total *int              `json:"total,omitempty"`
}

// MutationRequest is the body of POST /api/mutations/:operation.
type MutationRequest struct {
	EntityName    string            `json:"entityName"`
	Entities      []json.RawMessage `json:"entities,omitempty"`
	IDs           []int64           `json:"ids,omitempty"`
	QualityFlagID *int              `json:"qualityFlagId,omitempty"`
}

// MutationResponse carries the entities as stored by the server.
type MutationResponse struct {
	Data []json.RawMessage `json:"data"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
