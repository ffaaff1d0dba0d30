// Package webapi is a small client for the Nuki Web API
// (https://api.nuki.io), authenticated with a bearer token.
//
// Only the endpoints the gateway needs are covered: smartlock listing,
// users (auth entries), activity logs, notifications, actions and the
// three configuration blocks.
package webapi
