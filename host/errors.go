package host

import "errors"

// Sentinel errors for the loader's failure taxonomy. Each is wrapped with
// fmt.Errorf("%w: ...") at the call site and checked with errors.Is,
// following the reference stack's package-level Err* convention.
var (
	ErrManifestInvalid       = errors.New("host: manifest invalid")
	ErrUnsafeImport          = errors.New("host: unsafe import detected")
	ErrDependencyMissing     = errors.New("host: dependency missing")
	ErrDependencyCycle       = errors.New("host: dependency cycle")
	ErrDependencyUnsatisfied = errors.New("host: dependency unsatisfied")
	ErrVersionIncompatible   = errors.New("host: version incompatible")
	ErrGuardResolutionFailed = errors.New("host: guard resolution failed")
	ErrDuplicatePlugin       = errors.New("host: duplicate plugin name")
	ErrSymbolNotFound        = errors.New("host: symbol not found")
	ErrInstantiationFailed   = errors.New("host: instantiation failed")
	ErrInternalError         = errors.New("host: internal error")
	ErrHasDependents         = errors.New("host: plugin has loaded dependents")
)
