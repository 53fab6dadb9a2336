//go:build debug_mem_utils

package memutils

// DebugEnabled reports whether memutils was built with the debug_mem_utils build tag
const DebugEnabled = true

// DebugValidate will call Validate on the provided object and panics if any errors are returned. A heap
// that fails validation is not safe to keep operating on, so this halts rather than returning.
// This method no-ops unless the debug_mem_utils build tag is present.
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheck panics if err is not nil. It is used for caller contract violations (such as freeing
// a pointer that was never allocated) which are tolerated in production builds.
// This method no-ops unless the debug_mem_utils build tag is present.
func DebugCheck(err error) {
	if err != nil {
		panic(err)
	}
}
