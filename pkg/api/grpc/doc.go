// Package grpc provides the gRPC server surface.
//
// The server currently exposes the standard health checking service,
// mirroring worker pool health so orchestration platforms can probe the
// engine over gRPC.
package grpc
