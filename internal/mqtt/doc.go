// Package mqtt forwards agent events to an MQTT broker so dashboards
// and home automation can follow conversations as they happen.
//
// Every bus event is published as JSON under
// <prefix>/threads/<thread>/<kind>, or <prefix>/events/<kind> for
// events without a thread. Daily usage counters are published retained
// under <prefix>/stats/. The connection is managed by Eclipse Paho v2's
// [autopaho] package with automatic reconnection; a will message flips
// <prefix>/availability to "offline" on unexpected disconnects.
package mqtt
