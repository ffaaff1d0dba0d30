// Package mqtt wraps the Eclipse Paho client for the gateway.
//
// The gateway mirrors its state tree to retained topics, accepts user
// commands on set topics and announces its own availability with a Last
// Will:
//
//	nuki/state/smartlocks/front_door/state/locked   retained {"val":true,"ack":true,"ts":...}
//	nuki/set/smartlocks/front_door/_ACTION          command  2
//	nuki/system/status                              retained online/offline
//
// Subscriptions are remembered and restored after reconnect. Handlers run
// on Paho goroutines with panic recovery.
package mqtt
