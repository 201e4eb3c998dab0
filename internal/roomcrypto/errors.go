package roomcrypto

import (
	"fmt"

	"github.com/mikhael221/gighub-realtime/internal/domain"
)

// ErrDecryptionFailed wraps the domain sentinel so errors.Is matching at
// the transport boundary classifies decryption failures from any layer.
var ErrDecryptionFailed = fmt.Errorf("roomcrypto: %w", domain.ErrDecryptionFailed)
