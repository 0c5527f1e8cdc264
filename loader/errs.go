package loader

import "errors"

var (
	ErrBadSignature    = errors.New("loader: bad C4R signature")
	ErrWordSizeMismatch = errors.New("loader: module word size does not match host")
	ErrUnsupportedVersion = errors.New("loader: unsupported C4R version")
	ErrShortRead       = errors.New("loader: unexpected end of module")
	ErrBadMarker       = errors.New("loader: expected segment marker not found")
	ErrBadPatchType    = errors.New("loader: patch references an out-of-range symbol")
)
