// Package types defines the core types shared across the accounts service
package types

// ErrorType classifies errors so transports can map them to status codes
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeRateLimited  ErrorType = "rate_limited"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
)

// Context keys for request context
type ContextKey string

const (
	ContextKeyRequestID ContextKey = "request_id"
	ContextKeyClaims    ContextKey = "claims"
)

// Default paging values
const (
	DefaultPage     = 0
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page is one page of a listing together with the total row count
type Page[T any] struct {
	TotalRows   int64 `json:"totalRows"`
	CurrentPage int   `json:"currentPage"`
	PageSize    int   `json:"pageSize"`
	Rows        []T   `json:"-"`
}

// Offset returns the number of rows to skip for the given page
func Offset(page, size int) int {
	if page < 0 || size <= 0 {
		return 0
	}
	return page * size
}

// NormalizePaging applies the default page and page size
func NormalizePaging(page, size *int) (int, int) {
	p, s := DefaultPage, DefaultPageSize
	if page != nil {
		p = *page
	}
	if size != nil {
		s = *size
	}
	return p, s
}
