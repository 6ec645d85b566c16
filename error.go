package cowtree

import (
	"errors"

	"cowtree/internal/base"
	"cowtree/internal/btree"
	"cowtree/internal/storage"
)

//goland:noinspection GoUnusedGlobalVariable
var (
	ErrCorruption         = errors.New("data corruption detected")
	ErrValueNotReservable = errors.New("value type cannot be reserved in place")
	ErrSnapshotClosed     = errors.New("snapshot is closed")

	ErrKeyTooLarge   = btree.ErrKeyTooLarge
	ErrValueTooLarge = btree.ErrValueTooLarge

	ErrStoreClosed      = storage.ErrStoreClosed
	ErrPageOutOfRange   = storage.ErrPageOutOfRange
	ErrPageNotAllocated = storage.ErrPageNotAllocated

	ErrInvalidMagicNumber = base.ErrInvalidMagicNumber
	ErrInvalidVersion     = base.ErrInvalidVersion
	ErrInvalidPageSize    = base.ErrInvalidPageSize
	ErrInvalidChecksum    = base.ErrInvalidChecksum
	ErrInvalidPageType    = base.ErrInvalidPageType
)
