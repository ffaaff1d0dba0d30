// Package scheduler drives the data sources of the gateway.
//
// For every configured bridge it fetches /info and /list once at start,
// then either registers a callback URL (refresh type "callback"), polls
// /list on an interval ("polling") or does nothing more ("none"). The Web
// API, when active, is polled on its own interval. Bridge callbacks are
// handed in by the HTTP surface through HandleCallback.
//
// The scheduler also owns the bridge-level controls in the state store:
// the clearLog/firmwareUpdate/reboot buttons and the _delete button of
// each registered callback.
//
// Status flags are kept under "info":
//
//	info.bridgeApiSync      bridge data received at least once
//	info.bridgeApiLast      time of the last bridge update
//	info.bridgeApiCallback  a callback has been registered or received
//	info.webApiSync         Web API data received at least once
//	info.webApiLast         time of the last Web API poll
package scheduler
