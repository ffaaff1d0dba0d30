// Package api implements the gateway's HTTP surfaces.
//
// Server serves the REST API under /api/v1 and a WebSocket stream of state
// changes and events. CallbackServer is a separate listener that bridges
// push state changes to (POST /nuki-api-bridge).
//
// # Security
//
// When security.jwt.secret is set every route except /health and /metrics
// requires an HS256 bearer token; mutating routes need the operator role.
// WebSocket clients pass the token as the "token" query parameter. With no
// secret the API is open, which suits a trusted LAN.
//
// # WebSocket
//
// GET /api/v1/ws?channel=state&path=smartlocks.* subscribes on connect.
// Clients may then send subscribe, unsubscribe, snapshot and ping frames:
//
//	{"type":"subscribe","id":"1","data":{"channels":["events"]}}
//	{"type":"snapshot","id":"2","data":{"paths":["smartlocks.front_door.*"]}}
//
// Both servers follow the same lifecycle:
//
//	srv, err := api.New(deps)
//	srv.Start(ctx)
//	defer srv.Close()
package api
