package mailbox

import "errors"

// Error tags returned to mailbox clients (§4.G "Errors"), mirrored as
// the literal strings the original agent placed on the wire.
var (
	ErrInvalidJSON         = errors.New("INVALID_JSON")
	ErrInvalidType         = errors.New("INVALID_TYPE")
	ErrInvalidAssetType    = errors.New("INVALID_ASSET_TYPE")
	ErrInvalidAssetSubType = errors.New("INVALID_ASSET_SUB_TYPE")
	ErrInvalidIn           = errors.New("INVALID_IN")
	ErrInvalidCategory     = errors.New("INVALID_CATEGORY")
	ErrInvalidInput        = errors.New("INVALID_INPUT")
	ErrNotFound            = errors.New("NOT_FOUND")
)
