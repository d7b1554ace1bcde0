package storage

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// AssetPurpose captures high-level intent for storage layout decisions.
type AssetPurpose string

const (
	// PurposeOrderPhoto is a customer photo uploaded before checkout and later attached to an order item.
	PurposeOrderPhoto AssetPurpose = "order-photo"
)

// PathParams provide the identifiers used to compose object keys.
type PathParams struct {
	ObjectID  string
	Extension string
	At        time.Time
}

// PathBuilder composes the object path for a given asset purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[AssetPurpose]PathBuilder{
		PurposeOrderPhoto: buildOrderPhotoPath,
	}
	pathBuildersMu sync.RWMutex

	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose AssetPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose AssetPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported asset purpose %q", purpose)
	}
	return builder(params)
}

// NewObjectID returns a lexically sortable, unguessable identifier for object names.
func NewObjectID(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(at), entropy).String())
}

func buildOrderPhotoPath(params PathParams) (string, error) {
	at := params.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	objectID := params.ObjectID
	if strings.TrimSpace(objectID) == "" {
		objectID = NewObjectID(at)
	}
	objectID, err := validateSegment("objectID", objectID)
	if err != nil {
		return "", err
	}
	ext, err := validateSegment("extension", strings.TrimPrefix(params.Extension, "."))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("orders/photos/%04d/%02d/%s.%s", at.Year(), int(at.Month()), objectID, strings.ToLower(ext)), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
