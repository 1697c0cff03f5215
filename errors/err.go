package errors

import (
	"fmt"
)

var (
	ErrInvalidConfig      = fmt.Errorf("knowledge-engine: invalid config")
	ErrNotFound           = fmt.Errorf("knowledge-engine: not found")
	ErrValidation         = fmt.Errorf("knowledge-engine: invalid params")
	ErrEmbedding          = fmt.Errorf("knowledge-engine: embedding failed")
	ErrBackendUnavailable = fmt.Errorf("knowledge-engine: index backend unavailable")
	ErrInternal           = fmt.Errorf("knowledge-engine: internal error")
)
