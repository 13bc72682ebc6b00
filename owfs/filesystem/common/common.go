package common

// This package contains shared utilities and types used across the polling engine.
// It provides path normalization and comparison, sentinel errors, and the
// Prometheus collectors shared by the scheduler, snapshots and router.

// Note: Utility types are defined in their respective files.
// Use constructors like common.NewPathUtils() to create instances.
