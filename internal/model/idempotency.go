package model

import (
	"time"

	"gorm.io/datatypes"
)

// HeaderPair is one response header line. Order and duplicates are preserved.
type HeaderPair struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// SavedResponse is the response produced by an idempotent request, replayed verbatim on retry.
type SavedResponse struct {
	StatusCode int
	Headers    []HeaderPair
	Body       []byte
}

// MaxCallerIDLength is the width of the caller_id column.
const MaxCallerIDLength = 64

// IdempotencyRecord is keyed by (caller_id, idempotency_key). A nil ResponseStatus marks a
// claimed key whose response is still being produced.
type IdempotencyRecord struct {
	CallerID        string                          `gorm:"primaryKey;size:64"`
	IdempotencyKey  string                          `gorm:"primaryKey;size:255"`
	ResponseStatus  *int                            `gorm:"column:response_status"`
	ResponseHeaders datatypes.JSONSlice[HeaderPair] `gorm:"column:response_headers"`
	ResponseBody    []byte                          `gorm:"column:response_body"`
	CreatedAt       time.Time                       `gorm:"not null"`
}

func (IdempotencyRecord) TableName() string {
	return "idempotency"
}

// Completed reports whether a response has been saved for the key.
func (r *IdempotencyRecord) Completed() bool {
	return r.ResponseStatus != nil
}

// Response returns the saved response. Callers must check Completed first.
func (r *IdempotencyRecord) Response() *SavedResponse {
	resp := &SavedResponse{
		Headers: append([]HeaderPair(nil), r.ResponseHeaders...),
		Body:    append([]byte(nil), r.ResponseBody...),
	}
	if r.ResponseStatus != nil {
		resp.StatusCode = *r.ResponseStatus
	}
	return resp
}
