package recognition

import (
	"context"
	"errors"

	"github.com/aliabd97/smart-attendance-system-sub001/internal/sheet"
)

// Failure sentinels for the pipeline. Callers match them with errors.Is;
// every error leaving the package wraps exactly one of these so job
// documents and API responses can carry a stable failure kind.
var (
	// ErrUnsupportedFormat means the declared document type is not one the
	// loader accepts.
	ErrUnsupportedFormat = errors.New("recognition: unsupported document format")

	// ErrCorruptDocument means the document container could not be decoded.
	ErrCorruptDocument = errors.New("recognition: corrupt document")

	// ErrCalibration means a page's marker frame could not be located or
	// fitted within tolerance.
	ErrCalibration = errors.New("recognition: frame calibration failed")

	// ErrMetadataUnreadable means no session code could be decoded.
	ErrMetadataUnreadable = errors.New("recognition: session code unreadable")

	// ErrMetadataMismatch means a page's session code disagrees with the
	// job's resolved session.
	ErrMetadataMismatch = errors.New("recognition: session code mismatch")

	// ErrUnsupportedSchemaVersion is the sheet package's version gate,
	// re-exported so callers can match the whole taxonomy in one place.
	ErrUnsupportedSchemaVersion = sheet.ErrUnsupportedVersion

	// ErrRosterNotFound means no roster exists for the resolved session.
	ErrRosterNotFound = errors.New("recognition: no roster for session")

	// ErrStoreWrite wraps attendance store write failures so callers can
	// tell a persistence problem from a recognition problem.
	ErrStoreWrite = errors.New("recognition: attendance store write failed")
)

// Failure kinds as recorded in job documents and API payloads.
const (
	KindUnsupportedFormat  = "UNSUPPORTED_FORMAT"
	KindCorruptDocument    = "CORRUPT_DOCUMENT"
	KindCalibration        = "CALIBRATION"
	KindMetadataUnreadable = "METADATA_UNREADABLE"
	KindMetadataMismatch   = "METADATA_MISMATCH"
	KindUnsupportedSchema  = "UNSUPPORTED_SCHEMA_VERSION"
	KindRosterNotFound     = "ROSTER_NOT_FOUND"
	KindStoreWrite         = "STORE_WRITE_FAILED"
	KindPageDecode         = "PAGE_DECODE"
	KindCancelled          = "CANCELLED"
	KindInternal           = "INTERNAL"
)

// FailureKind maps an error chain to its stable kind string.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, ErrCorruptDocument):
		return KindCorruptDocument
	case errors.Is(err, ErrCalibration):
		return KindCalibration
	case errors.Is(err, ErrUnsupportedSchemaVersion):
		return KindUnsupportedSchema
	case errors.Is(err, ErrMetadataUnreadable):
		return KindMetadataUnreadable
	case errors.Is(err, ErrMetadataMismatch):
		return KindMetadataMismatch
	case errors.Is(err, ErrRosterNotFound):
		return KindRosterNotFound
	case errors.Is(err, ErrStoreWrite):
		return KindStoreWrite
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}
