package audio

import "errors"

// Frame buffer error types
var (
	ErrBufferFinalized = errors.New("frame buffer already finalized")
	ErrInvalidChunk    = errors.New("audio chunk must be non-empty PCM16 (even byte count)")
)
