package inventory

import "errors"

var (
	// ErrNotFound is returned by mutations addressing a missing folder or item.
	ErrNotFound = errors.New("inventory: not found")
	// ErrExists is returned by AddFolder when the id is taken.
	ErrExists = errors.New("inventory: folder already exists")
	// ErrStaleWrite rejects a folder update carrying an older version.
	ErrStaleWrite = errors.New("inventory: stale folder version")
	// ErrPolicy rejects link writes while account-wide deletion is disabled.
	ErrPolicy = errors.New("inventory: rejected by deletion policy")
	// ErrNotUnderTrash rejects a purge outside the trash (or link-folder) subtree.
	ErrNotUnderTrash = errors.New("inventory: folder is not in a deletable subtree")
	// ErrCycle rejects a move that would make a folder its own ancestor.
	ErrCycle = errors.New("inventory: move would create a cycle")
)
