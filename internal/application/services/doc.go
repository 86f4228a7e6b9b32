// Package services implements the user use cases on top of the repository,
// with injectable processing delay and fault injection.
package services
