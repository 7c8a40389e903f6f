//go:build gemkit_debug

package memutils

// DebugValidate calls Validate on the provided object and panics if any
// error is returned. It no-ops unless the gemkit_debug build tag is present.
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 verifies that the numerical value passed in is a power of
// two, and panics if it is not. It no-ops unless the gemkit_debug build tag
// is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
