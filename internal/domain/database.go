package domain

import "context"

// Database is a dump source. Dump writes a logical snapshot to outputPath.
type Database interface {
	Dump(ctx context.Context, outputPath string) error
	Ping(ctx context.Context) error
	GetName() string
	GetType() string
	Endpoint() string
	DumpExt() string
}
