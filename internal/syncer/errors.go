package syncer

import (
	"errors"

	"github.com/matrixise/portfolio-tracker/internal/storage"
)

var (
	// ErrNotFound is returned when the wallet id is unknown.
	ErrNotFound = storage.ErrNotFound
	// ErrUnsupportedChain is returned when no adapter is registered for the
	// wallet's chain.
	ErrUnsupportedChain = errors.New("unsupported chain")
	// ErrRPCFatal wraps an adapter failure that retrying cannot fix.
	ErrRPCFatal = errors.New("rpc call failed")
	// ErrRPCUnavailable is returned when retries are exhausted and no
	// previous snapshot exists to fall back on.
	ErrRPCUnavailable = errors.New("rpc unavailable")
	// ErrPersistence wraps a failed durable write.
	ErrPersistence = errors.New("persistence failed")
)
