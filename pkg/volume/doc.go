// Package volume implements the volume engine: a Holder keyed by
// absolute mount path, per-volume metadata, and four Backends sharing
// one capability set (Configure, Build, Clear, Destroy, Save, Restore,
// Resize, Move, GetStat).
//
// A volume moves through two steps before it is usable: Create
// allocates an id and a persisted-but-empty record; Configure then
// validates the requested path/storage/owner/quota and picks a
// backend if the caller didn't name one. Build asks the backend to
// produce the actual mount. Any failure during Configure or Build
// rolls back whatever the engine itself created — the auto-selected
// path, the storage directory, the per-id directory — in reverse
// order.
//
// The four backends trade off features against host requirements:
//
//	plain    bind mount, no quota
//	native   plain + ext4 project quota
//	overlay  overlayfs composed from layers, plus an upper/work pair
//	loop     ext4 formatted into a loop-attached image file
//
// Guarantee admission (CheckGuarantee) treats every volume on the same
// underlying filesystem as contending for the same pool of space and
// inodes: a new guarantee is only accepted if the filesystem's free
// capacity, plus whatever this volume is already using, covers the
// requested guarantee plus every other volume's unclaimed reservation.
package volume
