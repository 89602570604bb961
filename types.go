package identity

// Logger is the printf style logger every component accepts
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Verifier compares a plaintext password with a stored hash
type Verifier interface {
	Verify(plain, hash string) bool
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(plain, hash string) bool

// Verify implements Verifier.
func (f VerifierFunc) Verify(plain, hash string) bool {
	if f == nil {
		return false
	}
	return f(plain, hash)
}

// Hasher produces hashes the paired Verifier accepts. It is used to
// build the decoy hash compared on unknown emails.
type Hasher interface {
	Hash(plain string) (string, error)
}
