package memutils

// Validatable is implemented by types that can run internal consistency
// checks over themselves. DebugValidate acts on any of them.
type Validatable interface {
	Validate() error
}
