// Package auth issues and validates the HS256 access tokens of the REST API.
//
// Tokens carry a subject and a Role. Roles map statically to permissions:
// viewers may read devices, states and events; operators may also trigger
// actions and write states.
package auth
