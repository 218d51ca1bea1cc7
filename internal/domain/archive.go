package domain

import "time"

// Archiver packages a dump file into a compressed artifact inside root.
type Archiver interface {
	Build(dumpPath, root string, ts time.Time) (string, error)
}

// Encryptor turns a plaintext artifact into its encrypted counterpart and
// returns the encrypted path.
type Encryptor interface {
	Encrypt(path string) (string, error)
}
