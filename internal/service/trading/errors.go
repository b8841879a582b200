package trading

import "errors"

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrExposureExceeded    = errors.New("exposure exceeded")
	ErrDuplicateKey        = errors.New("duplicate position key")
	ErrDoubleRelease       = errors.New("double release")

	ErrMaxPositions     = errors.New("max open positions reached")
	ErrCooldown         = errors.New("symbol in cooldown")
	ErrLowConfidence    = errors.New("confidence below threshold")
	ErrNoPrice          = errors.New("no price for symbol")
	ErrInvalidSignal    = errors.New("invalid signal")
	ErrInvalidOrder     = errors.New("invalid open parameters")
	ErrPositionNotFound = errors.New("position not found")
	ErrInvariant        = errors.New("accounting invariant violated")
	ErrInvalidConfig    = errors.New("invalid config")
)

// IsFatal 账务状态已不可信，必须紧急保存并终止会话
func IsFatal(err error) bool {
	return errors.Is(err, ErrDoubleRelease) || errors.Is(err, ErrInvariant)
}
