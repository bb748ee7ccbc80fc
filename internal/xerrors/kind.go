package xerrors

import "errors"

// Kind classifies a failure by how far its blast radius reaches.
type Kind int

const (
	// KindUnknown is anything not explicitly tagged.
	KindUnknown Kind = iota
	// KindEntry failures skip one mapping entry and the run continues.
	KindEntry
	// KindSetup failures abort the run with a non-zero exit.
	KindSetup
	// KindVersioning failures are logged and the run still succeeds.
	KindVersioning
)

func (k Kind) String() string {
	switch k {
	case KindEntry:
		return "entry"
	case KindSetup:
		return "setup"
	case KindVersioning:
		return "versioning"
	default:
		return "unknown"
	}
}

type kinded struct {
	err  error
	kind Kind
}

func (k *kinded) Error() string     { return k.err.Error() }
func (k *kinded) Unwrap() error     { return k.err }
func (k *kinded) Kind() Kind        { return k.kind }
func (k *kinded) IsXerrorsWrapper() {}

// Tag marks err with kind without changing its message. nil stays nil.
func Tag(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kinded{err: err, kind: kind}
}

// KindOf returns the outermost Kind tagged on err's chain.
func KindOf(err error) Kind {
	var k interface{ Kind() Kind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindUnknown
}

// Is reports whether err is tagged with kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
