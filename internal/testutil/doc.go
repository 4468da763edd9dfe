// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing spectra and unit handlers. They are not
// intended for production usage.
package testutil
