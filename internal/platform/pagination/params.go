package pagination

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 100

	tokenPrefix = "after:"
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// Params is a keyset page request: rows with an id strictly below AfterID, newest first.
type Params struct {
	PageSize int
	AfterID  int64
}

// Page is a slice of results together with the token for the next page.
type Page[T any] struct {
	Items         []T
	NextPageToken string
}

// Parse reads pageSize and pageToken from query values.
func Parse(values url.Values, maxPageSize int) (Params, error) {
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	params := Params{PageSize: DefaultPageSize}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}

	if raw := strings.TrimSpace(values.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 || size > maxPageSize {
			return Params{}, ErrInvalidPageSize
		}
		params.PageSize = size
	}
	if raw := strings.TrimSpace(values.Get("pageToken")); raw != "" {
		id, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.AfterID = id
	}
	return params, nil
}

// EncodeToken returns an opaque token for the row id the next page starts after.
func EncodeToken(lastID int64) string {
	if lastID <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(tokenPrefix + strconv.FormatInt(lastID, 10)))
}

// DecodeToken reverses EncodeToken.
func DecodeToken(token string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, ErrInvalidPageToken
	}
	value, ok := strings.CutPrefix(string(raw), tokenPrefix)
	if !ok {
		return 0, ErrInvalidPageToken
	}
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidPageToken
	}
	return id, nil
}

// NewPage trims a result fetched with PageSize+1 rows and derives the next token.
func NewPage[T any](rows []T, pageSize int, id func(T) int64) Page[T] {
	if pageSize <= 0 || len(rows) <= pageSize {
		return Page[T]{Items: rows}
	}
	items := rows[:pageSize]
	return Page[T]{Items: items, NextPageToken: EncodeToken(id(items[len(items)-1]))}
}
